package domain

import "fmt"

// Provider names a linked account type.
type Provider string

const (
	ProviderStrava Provider = "strava"
	ProviderGarmin Provider = "garmin"
)

// ConnectionState is the per-user, per-provider link state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSyncing      ConnectionState = "syncing"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateSyncing, StateConnecting, StateDisconnected},
	StateSyncing:      {StateConnected},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move from s to next.
func (s ConnectionState) Transition(next ConnectionState) (ConnectionState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
