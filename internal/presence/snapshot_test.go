package presence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.msgpack")
	fp := Fingerprint{AsOfDate: "20240110", UniverseSize: 2}

	m := testMatrix()
	m.Set("20240103", "600000.SH", true)
	require.NoError(t, m.Save(path, fp))

	loaded, found, err := Load(path, fp)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, m.Dates(), loaded.Dates())
	assert.Equal(t, m.Entities(), loaded.Entities())
	assert.True(t, loaded.Present("20240103", "600000.SH"))
	assert.False(t, loaded.Present("20240102", "000001.SZ"))
}

func TestSnapshotFingerprintMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.msgpack")
	m := testMatrix()
	require.NoError(t, m.Save(path, Fingerprint{AsOfDate: "20240110", UniverseSize: 2}))

	tests := []struct {
		name string
		want Fingerprint
	}{
		{name: "stale as-of date", want: Fingerprint{AsOfDate: "20240111", UniverseSize: 2}},
		{name: "universe changed", want: Fingerprint{AsOfDate: "20240110", UniverseSize: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, found, err := Load(path, tt.want)
			require.NoError(t, err)
			assert.False(t, found, "mismatched fingerprint must force a rebuild")
		})
	}
}

func TestSnapshotAbsentOrCorrupt(t *testing.T) {
	dir := t.TempDir()
	fp := Fingerprint{AsOfDate: "20240110", UniverseSize: 2}

	_, found, err := Load(filepath.Join(dir, "nope.msgpack"), fp)
	require.NoError(t, err)
	assert.False(t, found)

	corrupt := filepath.Join(dir, "corrupt.msgpack")
	require.NoError(t, os.WriteFile(corrupt, []byte("not msgpack"), 0644))
	_, found, err = Load(corrupt, fp)
	require.NoError(t, err, "corrupt cache is treated as missing, not fatal")
	assert.False(t, found)
}
