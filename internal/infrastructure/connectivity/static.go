package connectivity

import "sync/atomic"

// Switch is a manually controlled signal
type Switch struct {
	online atomic.Bool
}

// NewSwitch creates a switch in the given state
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

// Online reports the current state
func (s *Switch) Online() bool {
	return s.online.Load()
}

// Set changes the state
func (s *Switch) Set(online bool) {
	s.online.Store(online)
}
