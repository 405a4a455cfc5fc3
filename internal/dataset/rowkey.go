package dataset

import (
	"fmt"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

const (
	cellSep  = 0x1f // unit separator between cells
	nullCell = 0x00 // marker distinguishing null from empty string
)

// appendCell renders one cell into a canonical byte form. Equal values always
// render equally; times render in UTC so zone representation cannot split a
// duplicate pair.
func appendCell(dst []byte, v any) []byte {
	switch tv := v.(type) {
	case nil:
		return append(dst, nullCell)
	case string:
		return append(dst, tv...)
	case bool:
		if tv {
			return append(dst, 't')
		}
		return append(dst, 'f')
	case int64:
		return strconv.AppendInt(dst, tv, 10)
	case float64:
		return strconv.AppendFloat(dst, tv, 'g', -1, 64)
	case time.Time:
		return tv.UTC().AppendFormat(dst, time.RFC3339Nano)
	default:
		return fmt.Appendf(dst, "%v", tv)
	}
}

func appendRowKey(dst []byte, t *Table, row int) []byte {
	for i, c := range t.Columns {
		if i > 0 {
			dst = append(dst, cellSep)
		}
		dst = appendCell(dst, c.Cells[row])
	}
	return dst
}

// DuplicateRows returns, in ascending order, the indexes of rows that exactly
// duplicate an earlier row (the first occurrence is never listed).
//
// Rows are bucketed by a 128-bit hash of their canonical form and confirmed
// cell-by-cell on a bucket hit, so the result is exact even under hash
// collisions.
func DuplicateRows(t *Table) []int {
	n := t.NumRows()
	if n == 0 || t.NumCols() == 0 {
		return nil
	}

	seen := make(map[xxh3.Uint128][]int, n)
	var dups []int
	buf := make([]byte, 0, 256)

	for i := 0; i < n; i++ {
		buf = appendRowKey(buf[:0], t, i)
		h := xxh3.Hash128(buf)

		dup := false
		for _, j := range seen[h] {
			if rowsEqual(t, i, j) {
				dup = true
				break
			}
		}
		if dup {
			dups = append(dups, i)
			continue
		}
		seen[h] = append(seen[h], i)
	}
	return dups
}

func rowsEqual(t *Table, a, b int) bool {
	for _, c := range t.Columns {
		if !cellsEqual(c.Cells[a], c.Cells[b]) {
			return false
		}
	}
	return true
}

func cellsEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if xt, ok := x.(time.Time); ok {
		yt, ok := y.(time.Time)
		return ok && xt.Equal(yt)
	}
	return x == y
}
