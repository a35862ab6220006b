// Package guard decides whether a navigation may proceed given the
// destination's requirements and the current session.
package guard

import (
	"context"

	"github.com/atinyakov/carpool/internal/models"
	"go.uber.org/zap"
)

// Decision is the outcome of one navigation attempt.
type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect(login)"
	case RedirectHome:
		return "redirect(home)"
	default:
		return "unknown"
	}
}

// Requirements are declared per destination. An empty Role means any.
type Requirements struct {
	RequiresAuth bool
	Role         models.UserType
}

// State is the part of the session a decision depends on.
type State struct {
	Authenticated bool
	UserType      models.UserType
}

// Decide maps requirements and session state to a decision. It has no side
// effects; session restore happens before it is called.
func Decide(req Requirements, st State) Decision {
	if req.RequiresAuth && !st.Authenticated {
		return RedirectLogin
	}
	if req.Role != "" && (!st.Authenticated || st.UserType != req.Role) {
		return RedirectHome
	}
	return Allow
}

// SessionState is what the guard needs from the session manager.
type SessionState interface {
	IsAuthenticated() bool
	CurrentUser() (models.User, bool)
	CheckAuth(ctx context.Context)
}

// Guard evaluates navigations against a Table.
type Guard struct {
	session SessionState
	table   *Table
	log     *zap.Logger

	LoginPath string
	HomePath  string
}

// New returns a Guard. A nil table means DefaultTable.
func New(session SessionState, table *Table, log *zap.Logger) *Guard {
	if table == nil {
		table = DefaultTable()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		session:   session,
		table:     table,
		log:       log,
		LoginPath: "/auth",
		HomePath:  "/",
	}
}

// Check restores the session once when req needs auth and none is loaded,
// then decides.
func (g *Guard) Check(ctx context.Context, req Requirements) Decision {
	if req.RequiresAuth && !g.session.IsAuthenticated() {
		g.session.CheckAuth(ctx)
	}
	return Decide(req, g.state())
}

func (g *Guard) state() State {
	u, ok := g.session.CurrentUser()
	return State{Authenticated: ok, UserType: u.Type}
}

// Result describes a navigation outcome. Redirect is set unless the
// decision is Allow.
type Result struct {
	Decision Decision
	Target   Target
	Redirect string
}

// Navigate resolves path and evaluates it.
func (g *Guard) Navigate(ctx context.Context, path string) (Result, error) {
	target, err := g.table.Resolve(path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Decision: g.Check(ctx, target.Requirements), Target: target}
	switch res.Decision {
	case RedirectLogin:
		res.Redirect = g.LoginPath
	case RedirectHome:
		res.Redirect = g.HomePath
	}
	if res.Decision != Allow {
		g.log.Debug("navigation redirected",
			zap.String("path", target.Path),
			zap.String("destination", target.Name),
			zap.Stringer("decision", res.Decision),
		)
	}
	return res, nil
}
