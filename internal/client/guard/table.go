package guard

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/atinyakov/carpool/internal/models"
	"github.com/go-chi/chi/v5"
)

// ErrUnknownRoute is returned for paths no destination matches.
var ErrUnknownRoute = errors.New("guard: unknown route")

// Destination is a named navigation target. Pattern uses chi syntax.
type Destination struct {
	Name    string
	Pattern string
	Requirements
}

// Target is a resolved navigation: the destination plus the concrete path
// and its parameters.
type Target struct {
	Destination
	Path   string
	Params map[string]string
}

// Table maps paths to destinations using a chi routing tree.
type Table struct {
	mux   *chi.Mux
	dests map[string]Destination
}

// NewTable builds a table. Patterns must be unique.
func NewTable(dests ...Destination) *Table {
	t := &Table{mux: chi.NewRouter(), dests: make(map[string]Destination, len(dests))}
	for _, d := range dests {
		t.dests[d.Pattern] = d
		t.mux.Get(d.Pattern, http.NotFound)
	}
	return t
}

// DefaultTable is the application's navigation table.
func DefaultTable() *Table {
	return NewTable(
		Destination{Name: "home", Pattern: "/"},
		Destination{Name: "auth", Pattern: "/auth"},
		Destination{Name: "publish", Pattern: "/publish", Requirements: Requirements{RequiresAuth: true, Role: models.Driver}},
		Destination{Name: "my-bookings", Pattern: "/my-bookings", Requirements: Requirements{RequiresAuth: true, Role: models.Passenger}},
		Destination{Name: "my-routes", Pattern: "/my-routes", Requirements: Requirements{RequiresAuth: true, Role: models.Driver}},
		Destination{Name: "route-detail", Pattern: "/routes/{id}"},
	)
}

// Resolve finds the destination for path. Query strings and a trailing
// slash are ignored.
func (t *Table) Resolve(path string) (Target, error) {
	u, err := url.Parse(path)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}
	p := u.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}

	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, http.MethodGet, p) {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}
	d, ok := t.dests[rctx.RoutePattern()]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}

	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		params[k] = rctx.URLParams.Values[i]
	}
	return Target{Destination: d, Path: p, Params: params}, nil
}
