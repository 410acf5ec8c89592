package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoKey is returned by LoadKey when no key file exists.
var ErrNoKey = errors.New("encryption key not found")

// EncodeKey renders k in the text form stored in key files.
func EncodeKey(k Key) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// DecodeKey parses the text form written by EncodeKey.
func DecodeKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Key{}, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("decode key: got %d bytes, want %d", len(raw), KeySize)
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// LoadKey reads the key stored at path.
func LoadKey(path string) (Key, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Key{}, fmt.Errorf("%w: %s", ErrNoKey, path)
	}
	if err != nil {
		return Key{}, fmt.Errorf("read key: %w", err)
	}
	return DecodeKey(string(data))
}

// SaveKey writes k to path with owner-only permissions. An existing file is
// only replaced when overwrite is set.
func SaveKey(path string, k Key, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	if _, err := f.WriteString(EncodeKey(k) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write key: %w", err)
	}
	return f.Close()
}
