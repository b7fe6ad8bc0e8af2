package pixfmt

// CadenceCursor advances cyclically through a VideoFormat's audio sample
// cadence, one slot per emitted tick (§3, §8 property 1).
type CadenceCursor struct {
	cadence []int
	pos     int
}

// NewCadenceCursor starts a cursor at the first cadence slot.
func NewCadenceCursor(cadence []int) *CadenceCursor {
	c := make([]int, len(cadence))
	copy(c, cadence)
	return &CadenceCursor{cadence: c}
}

// Next returns the sample count for the upcoming tick and advances the
// cursor to the following slot, wrapping cyclically.
func (c *CadenceCursor) Next() int {
	if len(c.cadence) == 0 {
		return 0
	}
	n := c.cadence[c.pos]
	c.pos = (c.pos + 1) % len(c.cadence)
	return n
}

// Peek returns the sample count for the upcoming tick without advancing.
func (c *CadenceCursor) Peek() int {
	if len(c.cadence) == 0 {
		return 0
	}
	return c.cadence[c.pos]
}

// Reset rewinds the cursor to the first cadence slot, used when a channel's
// video format changes while quiescent.
func (c *CadenceCursor) Reset() {
	c.pos = 0
}
