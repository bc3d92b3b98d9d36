// Package authstate reconciles the identity session of one client with its
// application profile and holds the resulting auth state.
package authstate

import "carebook/internal/profile"

// Status tags the variant of a State.
type Status string

const (
	StatusUnknown                  Status = "unknown"
	StatusResolving                Status = "resolving"
	StatusAuthenticatedWithProfile Status = "authenticated-with-profile"
	StatusAuthenticatedNoProfile   Status = "authenticated-no-profile"
	StatusUnauthenticated          Status = "unauthenticated"
)

// State is the auth state of one client. Only the with-profile variant
// carries a profile. The zero value is Unknown.
type State struct {
	status  Status
	profile profile.Profile
}

func Unknown() State {
	return State{status: StatusUnknown}
}

func Resolving() State {
	return State{status: StatusResolving}
}

func NoProfile() State {
	return State{status: StatusAuthenticatedNoProfile}
}

func Unauthenticated() State {
	return State{status: StatusUnauthenticated}
}

// WithProfile returns the authenticated-with-profile variant. A nil profile
// yields the no-profile variant.
func WithProfile(p profile.Profile) State {
	if p == nil {
		return NoProfile()
	}
	return State{status: StatusAuthenticatedWithProfile, profile: p}
}

// Status returns the variant tag.
func (s State) Status() Status {
	if s.status == "" {
		return StatusUnknown
	}
	return s.status
}

// Profile returns the resolved profile, or nil for every other variant.
func (s State) Profile() profile.Profile {
	return s.profile
}

// Settled reports whether the state is terminal for the current identity.
func (s State) Settled() bool {
	switch s.Status() {
	case StatusAuthenticatedWithProfile, StatusAuthenticatedNoProfile, StatusUnauthenticated:
		return true
	default:
		return false
	}
}

// Authenticated reports whether an identity is signed in, with or without a profile.
func (s State) Authenticated() bool {
	return s.Status() == StatusAuthenticatedWithProfile || s.Status() == StatusAuthenticatedNoProfile
}

func (s State) String() string {
	return string(s.Status())
}
