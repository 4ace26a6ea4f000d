package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMatrix() *Matrix {
	return NewMatrix(
		[]string{"20240102", "20240103", "20240104"},
		[]string{"000001.SZ", "600000.SH"},
	)
}

func TestMatrixSetPresent(t *testing.T) {
	m := testMatrix()

	assert.False(t, m.Present("20240102", "000001.SZ"), "matrix starts all missing")

	m.Set("20240102", "000001.SZ", true)
	assert.True(t, m.Present("20240102", "000001.SZ"))
	assert.False(t, m.Present("20240102", "600000.SH"))

	m.Set("20240102", "000001.SZ", false)
	assert.False(t, m.Present("20240102", "000001.SZ"))
}

func TestMatrixIgnoresUnknownCells(t *testing.T) {
	m := testMatrix()

	// Providers can return rows outside the tracked axes; they must not
	// panic or grow the matrix.
	m.Set("19990101", "000001.SZ", true)
	m.Set("20240102", "999999.SZ", true)

	assert.False(t, m.Present("19990101", "000001.SZ"))
	assert.False(t, m.Present("20240102", "999999.SZ"))
	assert.Len(t, m.Dates(), 3)
	assert.Len(t, m.Entities(), 2)
}

func TestMatrixMissing(t *testing.T) {
	m := testMatrix()
	m.Set("20240102", "000001.SZ", true)
	m.Set("20240103", "000001.SZ", true)
	m.Set("20240103", "600000.SH", true)

	assert.Equal(t, []string{"20240104"}, m.MissingDates("000001.SZ"))
	assert.Equal(t, []string{"20240102", "20240104"}, m.MissingDates("600000.SH"))
	assert.Equal(t,
		[]string{"20240102", "20240103", "20240104"},
		m.MissingDates("unknown"),
		"unknown entity is fully missing")

	assert.Equal(t, 1, m.MissingCount("20240102"))
	assert.Equal(t, 0, m.MissingCount("20240103"))
	assert.Equal(t, 2, m.MissingCount("20240104"))
	assert.Equal(t, 0, m.MissingCount("19990101"), "untracked date has no missing entities")

	assert.Equal(t, []string{"600000.SH"}, m.MissingEntities("20240102"))
	assert.Empty(t, m.MissingEntities("20240103"))
}
