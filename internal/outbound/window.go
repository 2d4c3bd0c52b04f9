package outbound

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrWindowClosed = errors.New("outbound: outside sending window")

// Window is the daily wall-clock interval during which sends are allowed.
// Both ends are inclusive; the end is exact to the minute.
type Window struct {
	start int // minutes after midnight
	end   int
	loc   *time.Location
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("outbound: invalid clock %q", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("outbound: invalid clock %q", s)
	}
	return h*60 + m, nil
}

func NewWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e < s {
		return Window{}, fmt.Errorf("outbound: window end %s before start %s", end, start)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Window{start: s, end: e, loc: loc}, nil
}

// Open reports whether now falls inside the window.
func (w Window) Open(now time.Time) bool {
	t := now.In(w.loc)
	start := w.clock(t, w.start)
	end := w.clock(t, w.end)
	return !t.Before(start) && !t.After(end)
}

// clock returns the wall-clock minute m on t's calendar day. Building it from
// date fields keeps the bounds on the wall clock across DST changes.
func (w Window) clock(t time.Time, m int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), m/60, m%60, 0, 0, w.loc)
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s", w.start/60, w.start%60, w.end/60, w.end%60, w.loc)
}
