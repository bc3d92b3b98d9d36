package http

import (
	"encoding/json"
	"sort"

	"carebook/internal/authstate"
	"carebook/internal/identity"
	"carebook/internal/profile"
	"carebook/internal/route"
)

type stateView struct {
	Status   authstate.Status   `json:"status"`
	Identity *identity.Identity `json:"identity,omitempty"`
	Profile  json.RawMessage    `json:"profile,omitempty"`
}

type decisionView struct {
	Path     string     `json:"path"`
	Kind     route.Kind `json:"kind"`
	Location string     `json:"location,omitempty"`
}

func newStateView(state authstate.State, ident *identity.Identity) stateView {
	view := stateView{Status: state.Status()}
	if state.Authenticated() {
		view.Identity = ident
	}
	if p := state.Profile(); p != nil {
		if raw, err := profile.Encode(p); err == nil {
			view.Profile = raw
		}
	}
	return view
}

func newDecisionView(path string, d route.Decision) decisionView {
	return decisionView{Path: route.Normalize(path), Kind: d.Kind, Location: d.Location}
}

func sortedAssignments(d profile.Doctor) []string {
	ids := make([]string, 0, len(d.AssignedPatients))
	for id, assigned := range d.AssignedPatients {
		if assigned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
