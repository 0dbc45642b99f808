package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflictingMeta is returned for routes that require both an
	// authenticated user and a guest.
	ErrConflictingMeta = errors.New("route cannot require both auth and guest")
	// ErrDuplicateRoute is returned when two routes share a path.
	ErrDuplicateRoute = errors.New("duplicate route")
	// ErrInvalidPath is returned for paths that do not start with a slash.
	ErrInvalidPath = errors.New("route path must start with /")
)

// Requirement is the access requirement of a route.
type Requirement uint8

const (
	None Requirement = iota
	RequiresAuth
	RequiresGuest
)

func (r Requirement) String() string {
	switch r {
	case None:
		return "none"
	case RequiresAuth:
		return "requires-auth"
	case RequiresGuest:
		return "requires-guest"
	default:
		return fmt.Sprintf("Requirement(%d)", uint8(r))
	}
}

// Meta is the flag form of a requirement, as written in route tables.
type Meta struct {
	RequiresAuth  bool
	RequiresGuest bool
}

// Requirement folds the flags into one value.
func (m Meta) Requirement() (Requirement, error) {
	switch {
	case m.RequiresAuth && m.RequiresGuest:
		return None, ErrConflictingMeta
	case m.RequiresAuth:
		return RequiresAuth, nil
	case m.RequiresGuest:
		return RequiresGuest, nil
	default:
		return None, nil
	}
}

// Route is one navigable path.
type Route struct {
	Path string
	Name string
	Meta Meta
	// Redirect, when set, sends every visit to another path before any
	// requirement is checked.
	Redirect string
}

type entry struct {
	route Route
	req   Requirement
}

// Table is an immutable, validated set of routes.
type Table struct {
	byPath map[string]entry
	order  []Route
}

// NewTable validates routes and indexes them by path.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{
		byPath: make(map[string]entry, len(routes)),
		order:  make([]Route, 0, len(routes)),
	}
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, r.Path)
		}
		req, err := r.Meta.Requirement()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Path, err)
		}
		if _, dup := t.byPath[r.Path]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRoute, r.Path)
		}
		t.byPath[r.Path] = entry{route: r, req: req}
		t.order = append(t.order, r)
	}
	return t, nil
}

// Lookup returns the route registered for path.
func (t *Table) Lookup(path string) (Route, Requirement, bool) {
	if t == nil {
		return Route{}, None, false
	}
	e, ok := t.byPath[path]
	return e.route, e.req, ok
}

// ByName returns the route with the given name.
func (t *Table) ByName(name string) (Route, bool) {
	if t == nil {
		return Route{}, false
	}
	for _, r := range t.order {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the routes in declaration order.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	out := make([]Route, len(t.order))
	copy(out, t.order)
	return out
}
