package catalog

import (
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/extract"
)

// State is the availability of a service.
type State int

const (
	// StateUndiscovered services have not been probed yet.
	StateUndiscovered State = iota
	// StateAvailable services are polled on their interval.
	StateAvailable
	// StateUnavailable services are never polled again.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUndiscovered:
		return "undiscovered"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	}
	return "unknown"
}

type actionState struct {
	Action
	disabled bool
}

// Service is the runtime state of one Definition. It is owned by the
// scheduler goroutine.
type Service struct {
	def      *Definition
	state    State
	interval time.Duration

	lastQuery time.Time
	actions   []actionState
	tracker   *extract.Tracker
}

func newService(def *Definition, minInterval time.Duration) *Service {
	s := &Service{
		def:      def,
		interval: max(def.Interval, minInterval),
	}
	for _, a := range def.Actions {
		s.actions = append(s.actions, actionState{Action: a})
	}
	if def.Track {
		s.tracker = extract.NewTracker()
	}
	return s
}

// Name returns the definition name.
func (s *Service) Name() string { return s.def.Name }

// State returns the current availability.
func (s *Service) State() State { return s.state }

// Interval returns the effective poll interval.
func (s *Service) Interval() time.Duration { return s.interval }

// LastQuery returns the time of the last successful poll.
func (s *Service) LastQuery() time.Time { return s.lastQuery }

// ActionEnabled reports whether the named action is still polled.
func (s *Service) ActionEnabled(name string) bool {
	for _, a := range s.actions {
		if a.Name == name {
			return !a.disabled
		}
	}
	return false
}

func (s *Service) disableAction(name string) {
	for i := range s.actions {
		if s.actions[i].Name == name {
			s.actions[i].disabled = true
		}
	}
}

func (s *Service) enabledActions() int {
	n := 0
	for _, a := range s.actions {
		if !a.disabled {
			n++
		}
	}
	return n
}
