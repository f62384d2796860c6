package credit

import "time"

// Cycle is the daily reset policy. A cycle ends at local midnight in the
// configured location, and reset_at always stores that next boundary.
type Cycle struct {
	loc *time.Location
}

// NewCycle creates a cycle policy for loc. A nil loc means UTC.
func NewCycle(loc *time.Location) Cycle {
	if loc == nil {
		loc = time.UTC
	}
	return Cycle{loc: loc}
}

// StartOfDay returns the local midnight at or before now.
func (c Cycle) StartOfDay(now time.Time) time.Time {
	y, m, d := now.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// NextReset returns the first local midnight strictly after now.
func (c Cycle) NextReset(now time.Time) time.Time {
	y, m, d := now.In(c.loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
}

// Location returns the cycle's reference location.
func (c Cycle) Location() *time.Location {
	return c.loc
}
