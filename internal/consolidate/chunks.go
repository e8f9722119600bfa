// Package consolidate partitions a taxpayer's row history into bounded year
// chunks and renders them as formatted master-workbook sheets.
package consolidate

import (
	"fmt"

	"qworker/internal/declaration"
)

// Chunk is one populated year range of a taxpayer's history, rendered as
// one worksheet. StartYear/EndYear are the nominal chunk boundaries; the
// sheet name is derived from the rows actually present.
type Chunk struct {
	StartYear int
	EndYear   int
	Rows      []declaration.Row
}

// SheetName derives the worksheet name from the earliest and latest
// transaction dates present in the chunk, not the nominal boundary.
func (c Chunk) SheetName() string {
	if len(c.Rows) == 0 {
		return fmt.Sprintf("%d - %d", c.StartYear, c.EndYear)
	}
	first := c.Rows[0].Date
	last := c.Rows[0].Date
	for _, row := range c.Rows[1:] {
		if row.Date.Before(first) {
			first = row.Date
		}
		if row.Date.After(last) {
			last = row.Date
		}
	}
	return fmt.Sprintf("%s - %s", first.Format("01-2006"), last.Format("01-2006"))
}

// ChunkRows partitions rows (assumed ordered by date ascending) into chunks
// of the given year width, walking boundaries upward from the minimum year.
// Chunks with no matching rows are skipped.
func ChunkRows(rows []declaration.Row, width int) []Chunk {
	if len(rows) == 0 {
		return nil
	}
	if width < 1 {
		width = 1
	}

	minYear := rows[0].Year()
	maxYear := rows[0].Year()
	for _, row := range rows[1:] {
		if y := row.Year(); y < minYear {
			minYear = y
		} else if y > maxYear {
			maxYear = y
		}
	}

	var chunks []Chunk
	for start := minYear; start <= maxYear; start += width {
		end := start + width - 1
		var members []declaration.Row
		for _, row := range rows {
			if y := row.Year(); y >= start && y <= end {
				members = append(members, row)
			}
		}
		if len(members) == 0 {
			continue
		}
		chunks = append(chunks, Chunk{StartYear: start, EndYear: end, Rows: members})
	}
	return chunks
}
