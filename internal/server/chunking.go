package server

// Default DoGet batch sizes in rows.
const (
	DefaultChunkMinRows = 4096
	DefaultChunkMaxRows = 65536
)

// chunkSizer yields DoGet batch sizes. The first batch is small so the
// client sees data early; later batches double up to maxRows.
type chunkSizer struct {
	minRows int
	maxRows int
	growth  float64
	current int
}

func newChunkSizer(minRows, maxRows int, growth float64) *chunkSizer {
	if minRows <= 0 {
		minRows = DefaultChunkMinRows
	}
	if maxRows < minRows {
		maxRows = minRows
	}
	if growth < 1 {
		growth = 1
	}
	return &chunkSizer{minRows: minRows, maxRows: maxRows, growth: growth, current: minRows}
}

// next returns the current size and advances.
func (c *chunkSizer) next() int {
	n := c.current
	grown := int(float64(c.current) * c.growth)
	if grown > c.maxRows {
		grown = c.maxRows
	}
	c.current = grown
	return n
}

func (c *chunkSizer) reset() { c.current = c.minRows }

// chunkBounds splits total rows into [lo, hi) ranges sized by c. Each call
// starts again from minRows.
func chunkBounds(total int, c *chunkSizer) [][2]int {
	c.reset()
	var out [][2]int
	for lo := 0; lo < total; {
		hi := lo + c.next()
		if hi > total {
			hi = total
		}
		out = append(out, [2]int{lo, hi})
		lo = hi
	}
	return out
}
