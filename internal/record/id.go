package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// HostID identifies one installation. It is created on first run and never
// regenerated implicitly.
type HostID struct {
	uuid.UUID
}

// RecordID is the globally unique identity of a single record.
type RecordID struct {
	uuid.UUID
}

// NewHostID returns a fresh time-sortable host identifier.
func NewHostID() HostID {
	return HostID{uuid.Must(uuid.NewV7())}
}

// NewRecordID returns a fresh time-sortable record identifier.
//
// UUIDv7 embeds the creation time in the high bits so ids created on one
// device sort roughly by creation order, which keeps debug output readable.
func NewRecordID() RecordID {
	return RecordID{uuid.Must(uuid.NewV7())}
}

// ParseHostID parses the canonical hyphenated form or the 32-char simple form.
func ParseHostID(s string) (HostID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return HostID{}, fmt.Errorf("parse host id %q: %w", s, err)
	}
	return HostID{u}, nil
}

// ParseRecordID parses a record identifier.
func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return RecordID{}, fmt.Errorf("parse record id %q: %w", s, err)
	}
	return RecordID{u}, nil
}

// MustRecordID is like ParseRecordID but panics on error.
// Use only in tests or with constant input.
func MustRecordID(s string) RecordID {
	id, err := ParseRecordID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MustHostID is like ParseHostID but panics on error.
// Use only in tests or with constant input.
func MustHostID(s string) HostID {
	id, err := ParseHostID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// LoadOrCreateHostID reads the host id stored at path, creating the file with
// a new id when it does not exist yet. A file that exists but cannot be
// parsed is an error; the id is never silently replaced.
func LoadOrCreateHostID(path string) (HostID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseHostID(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return HostID{}, fmt.Errorf("read host id: %w", err)
	}

	id := NewHostID()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return HostID{}, fmt.Errorf("create host id dir: %w", err)
	}
	// O_EXCL so two processes racing on first run agree on one id.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return LoadOrCreateHostID(path)
		}
		return HostID{}, fmt.Errorf("create host id: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(id.String() + "\n"); err != nil {
		return HostID{}, fmt.Errorf("write host id: %w", err)
	}
	return id, nil
}
