package collector

// BlockCursor remembers the last block height acted upon. It is owned by
// the control loop and is not safe for concurrent use.
type BlockCursor struct {
	last uint64
}

// NewBlockCursor starts the cursor at the height observed at startup.
func NewBlockCursor(start uint64) *BlockCursor {
	return &BlockCursor{last: start}
}

// Advance moves the cursor to height if it is strictly greater than the last
// seen height and reports whether it moved.
func (c *BlockCursor) Advance(height uint64) (uint64, bool) {
	if height <= c.last {
		return 0, false
	}
	c.last = height
	return height, true
}

// Last returns the last seen height.
func (c *BlockCursor) Last() uint64 {
	return c.last
}
