package jsonfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ring struct {
	Entries []string `json:"entries"`
}

func TestUpdate_CreatesFileOnFirstWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.json")
	s := Open(path)

	var r ring
	err := s.Update(&r, func() error {
		r.Entries = append(r.Entries, "hello")
		return nil
	})
	require.NoError(t, err)

	var readBack ring
	require.NoError(t, s.Read(&readBack))
	assert.Equal(t, []string{"hello"}, readBack.Entries)
}

func TestUpdate_AppendsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.json")
	s := Open(path)

	for _, entry := range []string{"a", "b", "c"} {
		var r ring
		err := s.Update(&r, func() error {
			r.Entries = append(r.Entries, entry)
			return nil
		})
		require.NoError(t, err)
	}

	var r ring
	require.NoError(t, s.Read(&r))
	assert.Equal(t, []string{"a", "b", "c"}, r.Entries)
}

func TestRead_MissingFileLeavesZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	s := Open(path)

	r := ring{Entries: []string{"untouched"}}
	require.NoError(t, s.Read(&r))
	assert.Equal(t, []string{"untouched"}, r.Entries)
}

func TestUpdate_MutateErrorAbortsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.json")
	s := Open(path)

	var r ring
	err := s.Update(&r, func() error {
		r.Entries = append(r.Entries, "should not persist")
		return assert.AnError
	})
	require.Error(t, err)

	var readBack ring
	require.NoError(t, s.Read(&readBack))
	assert.Empty(t, readBack.Entries)
}
