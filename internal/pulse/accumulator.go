package pulse

import (
	"github.com/shopspring/decimal"
)

// Accumulator sums pulse durations per origin and hour start. It is
// immutable: Fold returns a new value and leaves the receiver untouched, so a
// snapshot can be handed to another goroutine while folding continues.
type Accumulator struct {
	origins map[string]map[int64]decimal.Decimal
}

// Fold returns an accumulator with p.Duration added to the entry for
// (p.Origin, p.StartTime). Only the outer map and the folded origin's map
// are copied; other origins are shared with the receiver.
func (a Accumulator) Fold(p Pulse) Accumulator {
	origins := make(map[string]map[int64]decimal.Decimal, len(a.origins)+1)
	for origin, hours := range a.origins {
		origins[origin] = hours
	}

	previous := a.origins[p.Origin]
	hours := make(map[int64]decimal.Decimal, len(previous)+1)
	for start, d := range previous {
		hours[start] = d
	}
	hours[p.StartTime] = hours[p.StartTime].Add(p.Duration)
	origins[p.Origin] = hours

	return Accumulator{origins: origins}
}

// Decompose returns one pulse per (origin, hour) entry in no particular order.
func (a Accumulator) Decompose() []Pulse {
	pulses := make([]Pulse, 0, a.Len())
	for origin, hours := range a.origins {
		for start, d := range hours {
			pulses = append(pulses, Pulse{Origin: origin, StartTime: start, Duration: d})
		}
	}
	return pulses
}

// Len returns the number of (origin, hour) entries.
func (a Accumulator) Len() int {
	n := 0
	for _, hours := range a.origins {
		n += len(hours)
	}
	return n
}

func (a Accumulator) IsEmpty() bool {
	return a.Len() == 0
}

// Total returns the sum of every entry.
func (a Accumulator) Total() decimal.Decimal {
	total := decimal.Zero
	for _, hours := range a.origins {
		for _, d := range hours {
			total = total.Add(d)
		}
	}
	return total
}

// Duration returns the accumulated duration for one origin and hour start.
func (a Accumulator) Duration(origin string, start int64) decimal.Decimal {
	return a.origins[origin][start]
}
