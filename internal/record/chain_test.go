package record

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainOf(n int) []Record[Encrypted] {
	host := NewHostID()
	var recs []Record[Encrypted]
	var parent *RecordID
	for i := 0; i < n; i++ {
		r := Record[Encrypted]{
			ID:      NewRecordID(),
			Host:    host,
			Parent:  parent,
			Version: "v1",
			Tag:     TagHistory,
			Idx:     Idx(i),
		}
		id := r.ID
		parent = &id
		recs = append(recs, r)
	}
	return recs
}

func TestCheckAppend_FirstRecord(t *testing.T) {
	recs := chainOf(1)

	d, err := CheckAppend(nil, nil, recs[0])
	require.NoError(t, err)
	assert.Equal(t, Append, d)
}

func TestCheckAppend_FirstRecordWrongIdx(t *testing.T) {
	recs := chainOf(2)

	_, err := CheckAppend(nil, nil, recs[1])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonContiguousIdx))

	var ae *AppendError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, Idx(1), ae.Idx)
}

func TestCheckAppend_FirstRecordWithParent(t *testing.T) {
	recs := chainOf(1)
	bogus := NewRecordID()
	recs[0].Parent = &bogus

	_, err := CheckAppend(nil, nil, recs[0])
	assert.ErrorIs(t, err, ErrChainMismatch)
}

func TestCheckAppend_Contiguous(t *testing.T) {
	recs := chainOf(3)

	d, err := CheckAppend(&recs[1], nil, recs[2])
	require.NoError(t, err)
	assert.Equal(t, Append, d)
}

func TestCheckAppend_Gap(t *testing.T) {
	recs := chainOf(3)

	_, err := CheckAppend(&recs[0], nil, recs[2])
	assert.ErrorIs(t, err, ErrNonContiguousIdx)
}

func TestCheckAppend_WrongParent(t *testing.T) {
	recs := chainOf(3)
	other := NewRecordID()
	recs[2].Parent = &other

	_, err := CheckAppend(&recs[1], nil, recs[2])
	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.True(t, IsDivergence(err))
}

func TestCheckAppend_AlreadyApplied(t *testing.T) {
	recs := chainOf(3)

	d, err := CheckAppend(&recs[2], &recs[1], recs[1])
	require.NoError(t, err)
	assert.Equal(t, AlreadyApplied, d)
}

func TestCheckAppend_ForkAtExistingIdx(t *testing.T) {
	recs := chainOf(2)
	fork := recs[1]
	fork.ID = NewRecordID()

	_, err := CheckAppend(&recs[1], &recs[1], fork)
	assert.ErrorIs(t, err, ErrChainMismatch)
}

func TestCheckAppend_InvalidTag(t *testing.T) {
	recs := chainOf(1)
	recs[0].Tag = ""

	_, err := CheckAppend(nil, nil, recs[0])
	require.Error(t, err)
	assert.False(t, IsDivergence(err))
}

func TestCheckAppend_NonNFCTag(t *testing.T) {
	recs := chainOf(1)
	recs[0].Tag = "cafe\u0301"

	_, err := CheckAppend(nil, nil, recs[0])
	require.Error(t, err)

	recs[0].Tag = "caf\u00e9"
	_, err = CheckAppend(nil, nil, recs[0])
	require.NoError(t, err)
}

func TestCode_RoundTrip(t *testing.T) {
	for _, err := range []error{ErrNonContiguousIdx, ErrChainMismatch, ErrRecordTooLarge, ErrStorageUnavailable} {
		code := CodeOf(err)
		assert.Equal(t, err, code.Err(), "code %s", code)
	}
	assert.Equal(t, CodeInvalidRecord, CodeOf(errors.New("boom")))
	assert.Nil(t, CodeInvalidRecord.Err())
}

func TestRejection_Err(t *testing.T) {
	id := NewRecordID()

	err := Rejection{ID: id, Code: CodeRecordTooLarge, Message: "2048 > 1024"}.Err()
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Contains(t, err.Error(), id.String())

	err = Rejection{ID: id, Code: CodeInvalidRecord, Message: "bad tag"}.Err()
	assert.Error(t, err)
	assert.False(t, IsDivergence(err))
}
