package turn

// Cycle identifies one listening window. Zero means no window has been opened.
type Cycle uint64

// CycleGuard mints cycles and answers whether a captured one is still current
type CycleGuard struct {
	current Cycle
}

// Next advances to a new cycle and returns it
func (g *CycleGuard) Next() Cycle {
	g.current++
	return g.current
}

// Current returns the authoritative cycle
func (g *CycleGuard) Current() Cycle {
	return g.current
}

// Valid reports whether c is still the current cycle
func (g *CycleGuard) Valid(c Cycle) bool {
	return c == g.current
}
