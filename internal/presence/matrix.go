// Package presence tracks which (entity, date) cells already exist locally.
// The matrix is a disposable cache over the store: losing it costs a rescan,
// never data.
package presence

// Matrix is a boolean grid of trading dates x entities. It is built by the
// Builder or loaded from a snapshot, and afterwards mutated only by the sync
// engine's single aggregator goroutine; workers never write it directly.
type Matrix struct {
	dates     []string // sorted ascending, canonical form
	entities  []string
	dateIdx   map[string]int
	entityIdx map[string]int
	cells     [][]bool // [date][entity]
}

// NewMatrix creates an all-missing matrix over the given axes.
func NewMatrix(dates, entities []string) *Matrix {
	m := &Matrix{
		dates:     append([]string{}, dates...),
		entities:  append([]string{}, entities...),
		dateIdx:   make(map[string]int, len(dates)),
		entityIdx: make(map[string]int, len(entities)),
		cells:     make([][]bool, len(dates)),
	}
	for i, d := range m.dates {
		m.dateIdx[d] = i
		m.cells[i] = make([]bool, len(entities))
	}
	for i, e := range m.entities {
		m.entityIdx[e] = i
	}
	return m
}

// Set marks one cell. Unknown dates or entities are ignored: the provider may
// return rows outside the tracked range (new listings, suspended codes).
func (m *Matrix) Set(date, entity string, present bool) {
	di, ok := m.dateIdx[date]
	if !ok {
		return
	}
	ei, ok := m.entityIdx[entity]
	if !ok {
		return
	}
	m.cells[di][ei] = present
}

// Present reports whether a cell is marked. Unknown cells read as false.
func (m *Matrix) Present(date, entity string) bool {
	di, ok := m.dateIdx[date]
	if !ok {
		return false
	}
	ei, ok := m.entityIdx[entity]
	if !ok {
		return false
	}
	return m.cells[di][ei]
}

// Dates returns the tracked date axis, ascending.
func (m *Matrix) Dates() []string {
	return m.dates
}

// Entities returns the tracked entity axis.
func (m *Matrix) Entities() []string {
	return m.entities
}

// MissingDates returns the tracked dates on which the entity has no row,
// ascending. An unknown entity is fully missing.
func (m *Matrix) MissingDates(entity string) []string {
	ei, known := m.entityIdx[entity]
	var missing []string
	for di, d := range m.dates {
		if !known || !m.cells[di][ei] {
			missing = append(missing, d)
		}
	}
	return missing
}

// MissingCount returns how many entities have no row on the date.
func (m *Matrix) MissingCount(date string) int {
	di, ok := m.dateIdx[date]
	if !ok {
		return 0
	}
	n := 0
	for _, present := range m.cells[di] {
		if !present {
			n++
		}
	}
	return n
}

// MissingEntities returns the entities with no row on the date, axis order.
func (m *Matrix) MissingEntities(date string) []string {
	di, ok := m.dateIdx[date]
	if !ok {
		return nil
	}
	var missing []string
	for ei, present := range m.cells[di] {
		if !present {
			missing = append(missing, m.entities[ei])
		}
	}
	return missing
}
