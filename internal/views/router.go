// Package views selects which screen a session may render and which moves between screens
// are allowed.
//
// A State pairs the session's role with its current view. States are values: Navigate and
// Back return a new State and never mutate the receiver.
package views

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
)

// View names a screen.
type View string

const (
	ViewWaiting         View = "waiting"
	ViewSignIn          View = "sign-in"
	ViewSignUp          View = "sign-up"
	ViewNoAccess        View = "no-access"
	ViewDashboard       View = "dashboard"
	ViewHectares        View = "hectares"
	ViewTokens          View = "tokens"
	ViewEmissions       View = "emissions"
	ViewAdminDashboard  View = "admin-dashboard"
	ViewUserManagement  View = "user-management"
	ViewOperatorDetails View = "operator-details"
)

var (
	// ErrNotAdmissible indicates a view outside the session's reachable set.
	ErrNotAdmissible = errors.New("views: view not admissible for role")
	// ErrNoTransition indicates the target is admissible but not reachable from the current view.
	ErrNoTransition = errors.New("views: no transition")
	// ErrMissingOperator indicates operator-details was requested without an operator id.
	ErrMissingOperator = errors.New("views: operator id required")
	// ErrUnknownView indicates a view name that is not part of the router.
	ErrUnknownView = errors.New("views: unknown view")
)

// SessionStatus is the resolution state of the current identity.
type SessionStatus int

const (
	SessionIndeterminate SessionStatus = iota
	SessionAbsent
	SessionPresent
)

// Session is the explicit identity value the router is driven by.
type Session struct {
	Status SessionStatus
	Role   model.Role
	UserID string
}

// State is the current screen of a session.
type State struct {
	View       View       `json:"view"`
	Role       model.Role `json:"role,omitempty"`
	OperatorID string     `json:"operator_id,omitempty"`
	status     SessionStatus
}

var (
	operatorViews = []View{ViewDashboard, ViewHectares, ViewTokens, ViewEmissions}
	adminViews    = []View{ViewAdminDashboard, ViewUserManagement, ViewOperatorDetails}
	signedOut     = []View{ViewSignIn, ViewSignUp}

	operatorEdges = map[View][]View{
		ViewDashboard: {ViewHectares, ViewTokens, ViewEmissions, ViewDashboard},
		ViewHectares:  {ViewDashboard},
		ViewTokens:    {ViewDashboard},
		ViewEmissions: {ViewDashboard},
	}
	adminEdges = map[View][]View{
		ViewAdminDashboard:  {ViewUserManagement},
		ViewUserManagement:  {ViewAdminDashboard, ViewOperatorDetails},
		ViewOperatorDetails: {ViewUserManagement},
	}
	signedOutEdges = map[View][]View{
		ViewSignIn: {ViewSignUp},
		ViewSignUp: {ViewSignIn},
	}

	operatorBack = map[View]View{
		ViewHectares:  ViewDashboard,
		ViewTokens:    ViewDashboard,
		ViewEmissions: ViewDashboard,
	}
	adminBack = map[View]View{
		ViewUserManagement:  ViewAdminDashboard,
		ViewOperatorDetails: ViewUserManagement,
	}
	signedOutBack = map[View]View{
		ViewSignUp: ViewSignIn,
	}
)

// Views lists every view name.
func Views() []View {
	return []View{
		ViewWaiting, ViewSignIn, ViewSignUp, ViewNoAccess,
		ViewDashboard, ViewHectares, ViewTokens, ViewEmissions,
		ViewAdminDashboard, ViewUserManagement, ViewOperatorDetails,
	}
}

// ParseView normalizes raw input into a View.
func ParseView(raw string) (View, error) {
	candidate := View(strings.ToLower(strings.TrimSpace(raw)))
	for _, view := range Views() {
		if view == candidate {
			return view, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, raw)
}

// Reachable returns the views a signed-in role may render. Roles without a view table get
// an empty set.
func Reachable(role model.Role) []View {
	switch role {
	case model.RoleOperator:
		return append([]View(nil), operatorViews...)
	case model.RoleAdmin:
		return append([]View(nil), adminViews...)
	default:
		return nil
	}
}

// Admissible reports whether role may render view.
func Admissible(role model.Role, view View) bool {
	return contains(Reachable(role), view)
}

// Initial returns the entry state for a session.
func Initial(session Session) State {
	switch session.Status {
	case SessionAbsent:
		return State{View: ViewSignIn, status: SessionAbsent}
	case SessionPresent:
		state := State{Role: session.Role, status: SessionPresent}
		switch session.Role {
		case model.RoleOperator:
			state.View = ViewDashboard
		case model.RoleAdmin:
			state.View = ViewAdminDashboard
		default:
			state.View = ViewNoAccess
		}
		return state
	default:
		return State{View: ViewWaiting, status: SessionIndeterminate}
	}
}

// Restore rebuilds the state a client reports being on, rejecting views the session may not
// hold.
func Restore(session Session, view View, operatorID string) (State, error) {
	initial := Initial(session)
	if view == initial.View {
		return initial, nil
	}
	switch session.Status {
	case SessionAbsent:
		if !contains(signedOut, view) {
			return initial, fmt.Errorf("%w: %s", ErrNotAdmissible, view)
		}
		return State{View: view, status: SessionAbsent}, nil
	case SessionPresent:
		if !Admissible(session.Role, view) {
			return initial, fmt.Errorf("%w: %s for %s", ErrNotAdmissible, view, session.Role)
		}
		operatorID = strings.TrimSpace(operatorID)
		if view == ViewOperatorDetails && operatorID == "" {
			return initial, ErrMissingOperator
		}
		state := State{View: view, Role: session.Role, status: SessionPresent}
		if view == ViewOperatorDetails {
			state.OperatorID = operatorID
		}
		return state, nil
	default:
		return initial, fmt.Errorf("%w: identity unresolved", ErrNoTransition)
	}
}

// Transitions lists the views reachable from the current state in one step.
func (s State) Transitions() []View {
	return append([]View(nil), s.edges()[s.View]...)
}

// Navigate moves to target. operatorID is required for operator-details and ignored otherwise.
func (s State) Navigate(target View, operatorID string) (State, error) {
	if s.status == SessionPresent && !Admissible(s.Role, target) {
		return s, fmt.Errorf("%w: %s for %s", ErrNotAdmissible, target, s.Role)
	}
	if s.status == SessionAbsent && !contains(signedOut, target) {
		return s, fmt.Errorf("%w: %s", ErrNotAdmissible, target)
	}
	if !contains(s.edges()[s.View], target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrNoTransition, s.View, target)
	}
	next := State{View: target, Role: s.Role, status: s.status}
	if target == ViewOperatorDetails {
		operatorID = strings.TrimSpace(operatorID)
		if operatorID == "" {
			return s, ErrMissingOperator
		}
		next.OperatorID = operatorID
	}
	return next, nil
}

// Back returns to the parent view.
func (s State) Back() (State, error) {
	var parents map[View]View
	switch {
	case s.status == SessionAbsent:
		parents = signedOutBack
	case s.status == SessionPresent && s.Role == model.RoleOperator:
		parents = operatorBack
	case s.status == SessionPresent && s.Role == model.RoleAdmin:
		parents = adminBack
	}
	parent, ok := parents[s.View]
	if !ok {
		return s, fmt.Errorf("%w: %s has no parent", ErrNoTransition, s.View)
	}
	return State{View: parent, Role: s.Role, status: s.status}, nil
}

func (s State) edges() map[View][]View {
	switch s.status {
	case SessionAbsent:
		return signedOutEdges
	case SessionPresent:
		switch s.Role {
		case model.RoleOperator:
			return operatorEdges
		case model.RoleAdmin:
			return adminEdges
		}
	}
	return nil
}

func contains(views []View, target View) bool {
	for _, view := range views {
		if view == target {
			return true
		}
	}
	return false
}
