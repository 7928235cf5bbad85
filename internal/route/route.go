// Package route decides what a screen may show given the authentication
// state, and tracks where the user is and where to return after login.
package route

import (
	"strings"
	"sync"

	"github.com/raphaelgruber/ragone/internal/models"
)

// Well-known paths.
const (
	PathLogin          = "/login"
	PathRegister       = "/register"
	PathDashboard      = "/dashboard"
	PathKnowledgeBases = "/knowledge-bases"
	PathDocuments      = "/documents"
	PathChat           = "/chat"
	PathCharacters     = "/characters"
	PathRolePlay       = "/roleplay"
)

// Action is what the caller should do with a target.
type Action int

const (
	// Render shows the target.
	Render Action = iota
	// Loading shows a neutral placeholder while a login is in progress.
	Loading
	// Redirect sends the user to Decision.Path instead.
	Redirect
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Target is a screen the user wants to reach.
type Target struct {
	Path         string
	RequiresAuth bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Action Action
	// Path is the redirect destination.
	Path string
	// From is the originally requested path, set on redirects to login.
	From string
}

// Decide applies the guard rules. It is pure.
func Decide(state models.AuthState, target Target) Decision {
	switch {
	case state.Status == models.StatusAuthenticating:
		return Decision{Action: Loading}
	case target.RequiresAuth && state.Status != models.StatusAuthenticated:
		return Decision{Action: Redirect, Path: PathLogin, From: target.Path}
	case !target.RequiresAuth && state.Status == models.StatusAuthenticated:
		return Decision{Action: Redirect, Path: PathDashboard}
	}
	return Decision{Action: Render}
}

var publicPaths = map[string]bool{
	PathLogin:    true,
	PathRegister: true,
}

// Lookup returns the target for a path. Every known path except login and
// register requires authentication; "/roleplay/<characterId>" resolves to a
// protected role-play target.
func Lookup(path string) (Target, bool) {
	if publicPaths[path] {
		return Target{Path: path}, true
	}
	switch path {
	case PathDashboard, PathKnowledgeBases, PathDocuments, PathChat, PathCharacters, PathRolePlay:
		return Target{Path: path, RequiresAuth: true}, true
	}
	if id, ok := strings.CutPrefix(path, PathRolePlay+"/"); ok && id != "" && !strings.Contains(id, "/") {
		return Target{Path: path, RequiresAuth: true}, true
	}
	return Target{}, false
}

// Navigator tracks the current path and the origin to return to after login.
// It is safe for concurrent use.
type Navigator struct {
	mu       sync.Mutex
	current  string
	origin   string
	onChange []func(path string)
}

// NewNavigator starts at path.
func NewNavigator(path string) *Navigator {
	return &Navigator{current: path}
}

// Current returns the current path.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Origin returns the remembered path to return to after login, if any.
func (n *Navigator) Origin() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.origin
}

// OnChange registers fn to run after every path change.
func (n *Navigator) OnChange(fn func(path string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = append(n.onChange, fn)
}

// Go decides target against state and applies the result.
func (n *Navigator) Go(state models.AuthState, target Target) Decision {
	d := Decide(state, target)
	switch d.Action {
	case Render:
		n.move(target.Path, "")
	case Redirect:
		n.move(d.Path, d.From)
	}
	return d
}

// ToLogin moves to the login screen and remembers where the user was. It
// does nothing if the login screen is already showing.
func (n *Navigator) ToLogin() {
	n.mu.Lock()
	if n.current == PathLogin {
		n.mu.Unlock()
		return
	}
	from := n.current
	n.mu.Unlock()
	n.move(PathLogin, from)
}

// AfterLogin moves to the remembered origin, or the dashboard if there is
// none or it was a public screen, and returns the new path.
func (n *Navigator) AfterLogin() string {
	n.mu.Lock()
	dest := n.origin
	n.mu.Unlock()
	if dest == "" || publicPaths[dest] {
		dest = PathDashboard
	}
	n.move(dest, "")
	return dest
}

func (n *Navigator) move(path, from string) {
	n.mu.Lock()
	n.current = path
	if from != "" && !publicPaths[from] {
		n.origin = from
	} else if path != PathLogin {
		n.origin = ""
	}
	fns := append([]func(string){}, n.onChange...)
	n.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
}
