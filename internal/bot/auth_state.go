package bot

import (
	"time"
)

// AuthState represents the current state of the login or registration flow.
type AuthState int

const (
	AuthStateNone AuthState = iota
	AuthStateAwaitingLoginUsername
	AuthStateAwaitingLoginPassword
	AuthStateAwaitingRegisterUsername
	AuthStateAwaitingRegisterEmail
	AuthStateAwaitingRegisterPassword
)

// AuthFlowTimeout is how long we wait for user input before resetting the auth flow.
const AuthFlowTimeout = 15 * time.Minute

// AuthFlow tracks the state of an ongoing login or registration.
type AuthFlow struct {
	State           AuthState
	Username        string
	Email           string
	LastInteraction time.Time
}

// NewAuthFlow creates a new auth flow in the initial state.
func NewAuthFlow() *AuthFlow {
	return &AuthFlow{
		State:           AuthStateNone,
		LastInteraction: time.Now(),
	}
}

// IsActive returns true if an auth flow is in progress.
func (f *AuthFlow) IsActive() bool {
	return f.State != AuthStateNone
}

// IsRegistering returns true while the registration steps are being collected.
func (f *AuthFlow) IsRegistering() bool {
	switch f.State {
	case AuthStateAwaitingRegisterUsername, AuthStateAwaitingRegisterEmail, AuthStateAwaitingRegisterPassword:
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the auth flow has been inactive for too long.
func (f *AuthFlow) IsTimedOut() bool {
	if !f.IsActive() {
		return false
	}
	return time.Since(f.LastInteraction) > AuthFlowTimeout
}

// Reset clears the auth flow state. Collected credentials are dropped.
func (f *AuthFlow) Reset() {
	f.State = AuthStateNone
	f.Username = ""
	f.Email = ""
	f.LastInteraction = time.Now()
}

// Touch updates the last interaction time.
func (f *AuthFlow) Touch() {
	f.LastInteraction = time.Now()
}

func (s AuthState) String() string {
	switch s {
	case AuthStateNone:
		return "None"
	case AuthStateAwaitingLoginUsername:
		return "AwaitingLoginUsername"
	case AuthStateAwaitingLoginPassword:
		return "AwaitingLoginPassword"
	case AuthStateAwaitingRegisterUsername:
		return "AwaitingRegisterUsername"
	case AuthStateAwaitingRegisterEmail:
		return "AwaitingRegisterEmail"
	case AuthStateAwaitingRegisterPassword:
		return "AwaitingRegisterPassword"
	default:
		return "Unknown"
	}
}
