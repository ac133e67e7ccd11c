// schedule.go
package internal

import (
	"fmt"
	"sort"
	"time"
)

// Schedule evaluates the operating phase for a timestamp. It is a pure
// function of time and the configured boundary times: no hidden state,
// so replaying the same timestamp always yields the same phase.
//
// The four boundaries partition the 24h local day into closed-open
// intervals, each boundary starting its phase. A timestamp exactly on a
// boundary therefore belongs to the later phase.
type Schedule struct {
	loc        *time.Location
	boundaries []phaseBoundary // sorted by minute of day
}

type phaseBoundary struct {
	minute int
	phase  Phase
}

func NewSchedule(cfg ScheduleConfig) (*Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule.timezone: %v", ErrConfigInvalid, err)
	}
	entries := []struct {
		clock string
		phase Phase
	}{
		{cfg.NightEnd, PhaseDay},
		{cfg.NoonStart, PhaseNoon},
		{cfg.TwilightStart, PhaseTwilight},
		{cfg.NightStart, PhaseNight},
	}
	s := &Schedule{loc: loc}
	for _, e := range entries {
		m, err := parseClock(e.clock)
		if err != nil {
			return nil, fmt.Errorf("%w: schedule boundary %q: %v", ErrConfigInvalid, e.clock, err)
		}
		s.boundaries = append(s.boundaries, phaseBoundary{minute: m, phase: e.phase})
	}
	sort.Slice(s.boundaries, func(i, j int) bool { return s.boundaries[i].minute < s.boundaries[j].minute })
	for i := 1; i < len(s.boundaries); i++ {
		if s.boundaries[i].minute == s.boundaries[i-1].minute {
			return nil, fmt.Errorf("%w: duplicate schedule boundary at minute %d", ErrConfigInvalid, s.boundaries[i].minute)
		}
	}
	return s, nil
}

// PhaseAt returns the phase for t. Before the first boundary of the
// local day the phase wraps around from the last boundary of the
// previous day.
func (s *Schedule) PhaseAt(t time.Time) Phase {
	lt := t.In(s.loc)
	minute := lt.Hour()*60 + lt.Minute()
	phase := s.boundaries[len(s.boundaries)-1].phase
	for _, b := range s.boundaries {
		if minute >= b.minute {
			phase = b.phase
		}
	}
	return phase
}

// ProfileKey maps a phase to its ahu.profiles key.
func ProfileKey(p Phase) string {
	switch p {
	case PhaseNight:
		return "night"
	case PhaseDay:
		return "day"
	case PhaseNoon:
		return "noon"
	case PhaseTwilight:
		return "twilight"
	}
	return "day"
}
