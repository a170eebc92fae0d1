package convergence

import "time"

// Window is a tumbling scan window [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowFor returns the window of length d containing asOf. Windows are
// aligned to the Unix epoch, so every process computes the same boundaries.
func WindowFor(asOf time.Time, d time.Duration) Window {
	sec := int64(d / time.Second)
	if sec <= 0 {
		sec = 1
	}
	ts := asOf.UTC().Unix()
	start := ts - mod(ts, sec)
	s := time.Unix(start, 0).UTC()
	return Window{Start: s, End: s.Add(time.Duration(sec) * time.Second)}
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Duration is End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Last is the final instant that still belongs to the window, for
// inclusive range queries.
func (w Window) Last() time.Time {
	return w.End.Add(-time.Nanosecond)
}

// Previous returns the window immediately before w.
func (w Window) Previous() Window {
	d := w.Duration()
	return Window{Start: w.Start.Add(-d), End: w.Start}
}

// Through returns the end of an inclusive scan of w as of now: now itself
// while the window is open, Last once it has closed.
func (w Window) Through(now time.Time) time.Time {
	if now.Before(w.End) {
		return now.UTC()
	}
	return w.Last()
}

// String renders the window for logs.
func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}
