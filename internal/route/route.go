// Package route classifies request paths and decides, for a given auth
// state, whether a navigation renders, waits or redirects.
package route

import (
	"path"
	"strings"

	"carebook/internal/authstate"
)

// Well-known routes.
const (
	Login           = "/login"
	Register        = "/register"
	CompleteProfile = "/complete-profile"
	Dashboard       = "/dashboard"
	PatientPrefix   = "/patient"
)

// Class is the static classification of a route.
type Class int

const (
	Unclassified Class = iota
	AuthOnly
	Protected
)

func (c Class) String() string {
	switch c {
	case AuthOnly:
		return "auth-only"
	case Protected:
		return "protected"
	default:
		return "unclassified"
	}
}

var authOnly = map[string]struct{}{
	Login:           {},
	Register:        {},
	CompleteProfile: {},
}

var protectedPrefixes = []string{Dashboard, PatientPrefix}

// Normalize cleans p so that classification does not depend on trailing
// slashes or dot segments.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Classify returns the class of p.
func Classify(p string) Class {
	p = Normalize(p)
	if _, ok := authOnly[p]; ok {
		return AuthOnly
	}
	for _, prefix := range protectedPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return Protected
		}
	}
	return Unclassified
}

// Kind is the outcome of a guard decision.
type Kind string

const (
	Render   Kind = "render"
	Loading  Kind = "loading"
	Redirect Kind = "redirect"
)

// Decision is what the guard wants done with a navigation. Location is set
// only for redirects.
type Decision struct {
	Kind     Kind
	Location string
}

func render() Decision {
	return Decision{Kind: Render}
}

func redirect(to string) Decision {
	return Decision{Kind: Redirect, Location: to}
}

func loading() Decision {
	return Decision{Kind: Loading}
}

// Decide applies the guard rules in order; the first match wins:
//
//  1. resolving or unknown: loading
//  2. unauthenticated on a protected route: redirect to /login
//  3. authenticated without profile anywhere but /complete-profile: redirect there
//  4. authenticated with profile on an auth-only route: redirect to /dashboard
//  5. otherwise render
//
// Decide is pure. No redirect target is itself redirected again for the same
// state, so repeated evaluation cannot loop.
func Decide(state authstate.State, p string) Decision {
	p = Normalize(p)
	class := Classify(p)

	switch state.Status() {
	case authstate.StatusResolving, authstate.StatusUnknown:
		return loading()
	case authstate.StatusUnauthenticated:
		if class == Protected {
			return redirect(Login)
		}
	case authstate.StatusAuthenticatedNoProfile:
		if p != CompleteProfile {
			return redirect(CompleteProfile)
		}
	case authstate.StatusAuthenticatedWithProfile:
		if class == AuthOnly {
			return redirect(Dashboard)
		}
	}
	return render()
}
