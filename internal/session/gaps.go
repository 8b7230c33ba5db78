package session

import "math"

// wrapThreshold separates ordinary sequence excursions from 32-bit
// wraparound.
const wrapThreshold = 1_000_000_000

// Gap is a missing sequence range [Start, End) of one direction.
type Gap struct {
	Start uint32
	End   uint32
}

// Recovery reports the stored gap matched by an incoming range.
type Recovery struct {
	Gap
	// Retransmit is set when the incoming range reached outside the gap.
	Retransmit bool
}

// GapTracker holds the unresolved sequence gaps of one direction.
type GapTracker struct {
	gaps []Gap
}

// Add records [start, end). Empty or inverted ranges are ignored.
func (t *GapTracker) Add(start, end uint32) {
	if end > start {
		t.gaps = append(t.gaps, Gap{Start: start, End: end})
	}
}

// Len returns the number of unresolved gaps.
func (t *GapTracker) Len() int {
	return len(t.gaps)
}

// Gaps returns a copy of the unresolved gaps in insertion order.
func (t *GapTracker) Gaps() []Gap {
	return append([]Gap(nil), t.gaps...)
}

// Contains reconciles the incoming range [start, end) with the stored gaps,
// trimming, splitting or removing every gap it overlaps. It reports the last
// gap matched and whether any gap matched. A range that wraps past the top
// of the sequence space is handled as its two halves.
func (t *GapTracker) Contains(start, end uint32) (Recovery, bool) {
	if start > end {
		if start-end <= wrapThreshold {
			return Recovery{}, false
		}
		high, okHigh := t.Contains(start, math.MaxUint32)
		low, okLow := t.Contains(0, end)
		rec := high
		if okLow {
			rec = low
		}
		rec.Retransmit = high.Retransmit || low.Retransmit
		return rec, okHigh || okLow
	}

	var rec Recovery
	found := false
	for i := 0; i < len(t.gaps); {
		gap := &t.gaps[i]
		s, e := gap.Start, gap.End

		switch {
		case s == start && e == end:
			// exact fill
			rec.Gap = Gap{s, e}
			found = true
			t.remove(i)
			continue
		case s >= start && e <= end:
			// filled with extra data around it
			rec.Gap = Gap{s, e}
			rec.Retransmit = true
			found = true
			t.remove(i)
			continue
		case s == start && e > end:
			rec.Gap = Gap{s, e}
			found = true
			gap.Start = end
		case s > start && e > end && s < end:
			rec.Gap = Gap{s, e}
			rec.Retransmit = true
			found = true
			gap.Start = end
		case s < start && e > start && e < end:
			rec.Gap = Gap{s, e}
			rec.Retransmit = true
			found = true
			gap.End = start
		case s < start && e == end:
			rec.Gap = Gap{s, e}
			found = true
			gap.End = start
		case s < start && e > end:
			// middle fill splits the gap
			rec.Gap = Gap{s, e}
			found = true
			t.remove(i)
			t.gaps = append(t.gaps, Gap{s, start}, Gap{end, e})
			continue
		}
		i++
	}
	return rec, found
}

func (t *GapTracker) remove(i int) {
	t.gaps = append(t.gaps[:i], t.gaps[i+1:]...)
}
