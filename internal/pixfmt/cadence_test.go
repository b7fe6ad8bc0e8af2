package pixfmt

import "testing"

func TestCadenceCursorCycles(t *testing.T) {
	c := NewCadenceCursor([]int{1602, 1601, 1602, 1601, 1602})
	want := []int{1602, 1601, 1602, 1601, 1602, 1602, 1601, 1602, 1601, 1602}
	for i, w := range want {
		if got := c.Next(); got != w {
			t.Fatalf("tick %d: got %d, want %d", i, got, w)
		}
	}
}

func TestCadenceCursorPeekDoesNotAdvance(t *testing.T) {
	c := NewCadenceCursor([]int{1920})
	if got := c.Peek(); got != 1920 {
		t.Fatalf("Peek() = %d, want 1920", got)
	}
	if got := c.Peek(); got != 1920 {
		t.Fatalf("second Peek() = %d, want 1920 (unchanged)", got)
	}
	if got := c.Next(); got != 1920 {
		t.Fatalf("Next() = %d, want 1920", got)
	}
}

func TestCadenceCursorReset(t *testing.T) {
	c := NewCadenceCursor([]int{10, 20, 30})
	c.Next()
	c.Next()
	c.Reset()
	if got := c.Peek(); got != 10 {
		t.Fatalf("after Reset, Peek() = %d, want 10", got)
	}
}

func TestCadenceCursorEmpty(t *testing.T) {
	c := NewCadenceCursor(nil)
	if got := c.Next(); got != 0 {
		t.Fatalf("Next() on empty cadence = %d, want 0", got)
	}
}
