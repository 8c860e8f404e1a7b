package airquality

import (
	"sort"
	"time"
)

// Window is a half-open time range [Since, Until). A zero bound is open.
type Window struct {
	Since time.Time
	Until time.Time
}

// LastWindow returns the window of length d ending at now.
func LastWindow(now time.Time, d time.Duration) Window {
	return Window{Since: now.Add(-d), Until: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && !t.Before(w.Until) {
		return false
	}
	return true
}

type rankedReading struct {
	reading Reading
	pos     int
}

// ResolveLatest keeps one reading per location: the one with the greatest
// timestamp. Equal timestamps are broken by the lowest Seq, then by input order.
// When window is non-nil, readings outside it are dropped before ranking.
// The input is neither modified nor assumed to be sorted.
func ResolveLatest(readings []Reading, window *Window) map[int64]Reading {
	ranked := make([]rankedReading, 0, len(readings))
	for i, r := range readings {
		if window != nil && !window.Contains(r.Timestamp) {
			continue
		}
		ranked = append(ranked, rankedReading{reading: r, pos: i})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.reading.LocationKey != b.reading.LocationKey {
			return a.reading.LocationKey < b.reading.LocationKey
		}
		if !a.reading.Timestamp.Equal(b.reading.Timestamp) {
			return a.reading.Timestamp.After(b.reading.Timestamp)
		}
		if a.reading.Seq != b.reading.Seq {
			return a.reading.Seq < b.reading.Seq
		}
		return a.pos < b.pos
	})

	latest := make(map[int64]Reading)
	for _, rr := range ranked {
		if _, seen := latest[rr.reading.LocationKey]; seen {
			continue
		}
		latest[rr.reading.LocationKey] = rr.reading
	}
	return latest
}

// newestOf returns the most recent reading across locations, ties going to the
// lowest location key. ok is false for an empty map.
func newestOf(latest map[int64]Reading) (Reading, bool) {
	var (
		best  Reading
		found bool
	)
	for _, r := range latest {
		if !found ||
			r.Timestamp.After(best.Timestamp) ||
			(r.Timestamp.Equal(best.Timestamp) && r.LocationKey < best.LocationKey) {
			best = r
			found = true
		}
	}
	return best, found
}
