package consolidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qworker/internal/declaration"
)

func rowAt(year, month, day int, invoice string) declaration.Row {
	return declaration.Row{
		Date:          time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		InvoiceNumber: invoice,
	}
}

func TestChunkRows_DefaultWidth(t *testing.T) {
	// years {2021..2025} with width 4: boundaries [2021-2024], [2025-2028];
	// both populated, so two chunks with the second covering only 2025 data.
	rows := []declaration.Row{
		rowAt(2021, 3, 1, "A"),
		rowAt(2022, 6, 1, "B"),
		rowAt(2023, 9, 1, "C"),
		rowAt(2024, 12, 1, "D"),
		rowAt(2025, 2, 1, "E"),
	}

	chunks := ChunkRows(rows, 4)
	require.Len(t, chunks, 2)

	assert.Equal(t, 2021, chunks[0].StartYear)
	assert.Equal(t, 2024, chunks[0].EndYear)
	assert.Len(t, chunks[0].Rows, 4)

	assert.Equal(t, 2025, chunks[1].StartYear)
	assert.Equal(t, 2028, chunks[1].EndYear)
	require.Len(t, chunks[1].Rows, 1)
	assert.Equal(t, "E", chunks[1].Rows[0].InvoiceNumber)
}

func TestChunkRows_WidthOne(t *testing.T) {
	rows := []declaration.Row{
		rowAt(2022, 1, 1, "A"),
		rowAt(2022, 5, 1, "B"),
		rowAt(2024, 7, 1, "C"),
	}

	chunks := ChunkRows(rows, 1)
	require.Len(t, chunks, 2, "gap year 2023 has no data, so no chunk")
	assert.Equal(t, 2022, chunks[0].StartYear)
	assert.Len(t, chunks[0].Rows, 2)
	assert.Equal(t, 2024, chunks[1].StartYear)
	assert.Len(t, chunks[1].Rows, 1)
}

func TestChunkRows_EmptyGapChunkSkipped(t *testing.T) {
	// 2020 and 2029 only: nominal chunks [2020-2023], [2024-2027], [2028-2031];
	// the middle chunk has no rows and must not be emitted.
	rows := []declaration.Row{
		rowAt(2020, 1, 1, "A"),
		rowAt(2029, 1, 1, "B"),
	}

	chunks := ChunkRows(rows, 4)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2020, chunks[0].StartYear)
	assert.Equal(t, 2028, chunks[1].StartYear)
}

func TestChunkRows_Empty(t *testing.T) {
	assert.Nil(t, ChunkRows(nil, 4))
}

func TestChunk_SheetName(t *testing.T) {
	chunk := Chunk{
		StartYear: 2021,
		EndYear:   2024,
		Rows: []declaration.Row{
			rowAt(2021, 3, 15, "A"),
			rowAt(2023, 11, 2, "B"),
		},
	}

	// named from real data extents, not the nominal 2021-2024 boundary
	assert.Equal(t, "03-2021 - 11-2023", chunk.SheetName())
}

func TestChunk_SheetNameSingleMonth(t *testing.T) {
	chunk := Chunk{
		StartYear: 2025,
		EndYear:   2028,
		Rows:      []declaration.Row{rowAt(2025, 2, 10, "A")},
	}
	assert.Equal(t, "02-2025 - 02-2025", chunk.SheetName())
}
