package presence

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Fingerprint keys a matrix snapshot. Any mismatch against the expected
// fingerprint invalidates the snapshot and forces a full rebuild; there is
// no incremental snapshot upgrade.
type Fingerprint struct {
	AsOfDate     string `msgpack:"as_of_date"`
	UniverseSize int    `msgpack:"universe_size"`
}

type snapshot struct {
	Fingerprint Fingerprint `msgpack:"fingerprint"`
	Dates       []string    `msgpack:"dates"`
	Entities    []string    `msgpack:"entities"`
	Cells       [][]bool    `msgpack:"cells"`
}

// Save writes the matrix and its fingerprint to path, atomically via a
// temp-file rename.
func (m *Matrix) Save(path string, fp Fingerprint) error {
	data, err := msgpack.Marshal(snapshot{
		Fingerprint: fp,
		Dates:       m.dates,
		Entities:    m.entities,
		Cells:       m.cells,
	})
	if err != nil {
		return fmt.Errorf("failed to encode matrix snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write matrix snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot from path. found is false when the file is absent,
// unreadable, or carries a different fingerprint; the caller rebuilds then.
func Load(path string, want Fingerprint) (m *Matrix, found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read matrix snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		// Corrupt cache: treat as missing, the store can rebuild it.
		return nil, false, nil
	}
	if snap.Fingerprint != want {
		return nil, false, nil
	}

	m = NewMatrix(snap.Dates, snap.Entities)
	for di := range snap.Cells {
		if di >= len(m.cells) {
			break
		}
		copy(m.cells[di], snap.Cells[di])
	}
	return m, true, nil
}
