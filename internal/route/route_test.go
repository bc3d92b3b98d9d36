package route

import (
	"testing"

	"carebook/internal/authstate"
	"carebook/internal/profile"
)

func withProfile() authstate.State {
	return authstate.WithProfile(profile.Patient{Base: profile.Base{UID: "u1"}, PatientDataID: "PATIENT_U1"})
}

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"/login":            AuthOnly,
		"/register/":        AuthOnly,
		"/complete-profile": AuthOnly,
		"/dashboard":        Protected,
		"/dashboard/":       Protected,
		"/dashboard/charts": Protected,
		"/patient/p1":       Protected,
		"/patients":         Unclassified,
		"/dashboardx":       Unclassified,
		"/":                 Unclassified,
		"":                  Unclassified,
		"/about":            Unclassified,
	}
	for p, want := range cases {
		if got := Classify(p); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", p, got, want)
		}
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name  string
		state authstate.State
		path  string
		want  Decision
	}{
		{"unknown loads", authstate.Unknown(), "/dashboard", Decision{Kind: Loading}},
		{"resolving loads on auth route", authstate.Resolving(), "/login", Decision{Kind: Loading}},
		{"unauthenticated protected", authstate.Unauthenticated(), "/dashboard", Decision{Kind: Redirect, Location: Login}},
		{"unauthenticated patient page", authstate.Unauthenticated(), "/patient/p1", Decision{Kind: Redirect, Location: Login}},
		{"unauthenticated auth route", authstate.Unauthenticated(), "/login", Decision{Kind: Render}},
		{"unauthenticated home", authstate.Unauthenticated(), "/", Decision{Kind: Render}},
		{"no profile dashboard", authstate.NoProfile(), "/dashboard", Decision{Kind: Redirect, Location: CompleteProfile}},
		{"no profile login", authstate.NoProfile(), "/login", Decision{Kind: Redirect, Location: CompleteProfile}},
		{"no profile home", authstate.NoProfile(), "/", Decision{Kind: Redirect, Location: CompleteProfile}},
		{"no profile completion", authstate.NoProfile(), "/complete-profile", Decision{Kind: Render}},
		{"profile login", withProfile(), "/login", Decision{Kind: Redirect, Location: Dashboard}},
		{"profile completion", withProfile(), "/complete-profile", Decision{Kind: Redirect, Location: Dashboard}},
		{"profile dashboard", withProfile(), "/dashboard", Decision{Kind: Render}},
		{"profile home", withProfile(), "/", Decision{Kind: Render}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.state, tc.path); got != tc.want {
				t.Fatalf("Decide(%s, %q) = %+v, want %+v", tc.state, tc.path, got, tc.want)
			}
		})
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	states := []authstate.State{
		authstate.Unknown(),
		authstate.Resolving(),
		authstate.Unauthenticated(),
		authstate.NoProfile(),
		withProfile(),
	}
	paths := []string{"/", "/login", "/register", "/complete-profile", "/dashboard", "/patient/p1", "/about"}

	for _, state := range states {
		for _, p := range paths {
			first := Decide(state, p)
			for i := 0; i < 5; i++ {
				if got := Decide(state, p); got != first {
					t.Fatalf("Decide(%s, %q) oscillated: %+v then %+v", state, p, first, got)
				}
			}
		}
	}
}

func TestRedirectTargetsAreStable(t *testing.T) {
	states := []authstate.State{authstate.Unauthenticated(), authstate.NoProfile(), withProfile()}
	paths := []string{"/", "/login", "/register", "/complete-profile", "/dashboard", "/patient/p1"}

	for _, state := range states {
		for _, p := range paths {
			d := Decide(state, p)
			if d.Kind != Redirect {
				continue
			}
			if next := Decide(state, d.Location); next.Kind != Render {
				t.Fatalf("redirect from %q to %q under %s is followed by %+v", p, d.Location, state, next)
			}
		}
	}
}

func TestScenarioUnauthenticatedDashboard(t *testing.T) {
	if got := Decide(authstate.Unauthenticated(), "/dashboard"); got.Location != Login {
		t.Fatalf("expected redirect to /login, got %+v", got)
	}
}

func TestScenarioNoProfileDashboard(t *testing.T) {
	if got := Decide(authstate.NoProfile(), "/dashboard"); got.Location != CompleteProfile {
		t.Fatalf("expected redirect to /complete-profile, got %+v", got)
	}
}

func TestScenarioProfileOnLogin(t *testing.T) {
	if got := Decide(withProfile(), "/login"); got.Location != Dashboard {
		t.Fatalf("expected redirect to /dashboard, got %+v", got)
	}
}
