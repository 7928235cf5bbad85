package route

import (
	"testing"

	"github.com/raphaelgruber/ragone/internal/auth"
	"github.com/raphaelgruber/ragone/internal/models"
)

var _ auth.Navigator = (*Navigator)(nil)

var (
	anon    = models.AuthState{Status: models.StatusUnauthenticated}
	pending = models.AuthState{Status: models.StatusAuthenticating}
	alice   = models.AuthState{Status: models.StatusAuthenticated, User: &models.User{Username: "alice"}}
)

func TestDecide(t *testing.T) {
	protected := Target{Path: PathRolePlay, RequiresAuth: true}
	public := Target{Path: PathLogin}

	tests := []struct {
		name   string
		state  models.AuthState
		target Target
		want   Decision
	}{
		{"anon on protected", anon, protected, Decision{Action: Redirect, Path: PathLogin, From: PathRolePlay}},
		{"anon on public", anon, public, Decision{Action: Render}},
		{"authenticated on protected", alice, protected, Decision{Action: Render}},
		{"authenticated on public", alice, public, Decision{Action: Redirect, Path: PathDashboard}},
		{"authenticating on protected", pending, protected, Decision{Action: Loading}},
		{"authenticating on public", pending, public, Decision{Action: Loading}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.state, tt.target); got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		path         string
		found        bool
		requiresAuth bool
	}{
		{"/login", true, false},
		{"/register", true, false},
		{"/dashboard", true, true},
		{"/knowledge-bases", true, true},
		{"/roleplay", true, true},
		{"/roleplay/42", true, true},
		{"/roleplay/", false, false},
		{"/roleplay/42/extra", false, false},
		{"/nope", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, found := Lookup(tt.path)
			if found != tt.found {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.path, found, tt.found)
			}
			if found && got.RequiresAuth != tt.requiresAuth {
				t.Errorf("RequiresAuth = %v, want %v", got.RequiresAuth, tt.requiresAuth)
			}
		})
	}
}

func TestNavigatorRemembersOriginAcrossLogin(t *testing.T) {
	nav := NewNavigator(PathLogin)
	target, _ := Lookup("/roleplay/7")

	d := nav.Go(anon, target)
	if d.Action != Redirect || nav.Current() != PathLogin {
		t.Fatalf("expected redirect to login, got %+v at %s", d, nav.Current())
	}
	if nav.Origin() != "/roleplay/7" {
		t.Fatalf("Origin = %q", nav.Origin())
	}

	if got := nav.AfterLogin(); got != "/roleplay/7" {
		t.Errorf("AfterLogin = %q, want /roleplay/7", got)
	}
	if nav.Origin() != "" {
		t.Errorf("origin should be consumed, got %q", nav.Origin())
	}
}

func TestAfterLoginDefaultsToDashboard(t *testing.T) {
	nav := NewNavigator(PathLogin)
	if got := nav.AfterLogin(); got != PathDashboard {
		t.Errorf("AfterLogin = %q, want %s", got, PathDashboard)
	}
}

func TestToLoginFromProtectedScreen(t *testing.T) {
	nav := NewNavigator(PathChat)
	var changes []string
	nav.OnChange(func(p string) { changes = append(changes, p) })

	nav.ToLogin()
	nav.ToLogin() // already there

	if nav.Current() != PathLogin {
		t.Fatalf("Current = %q", nav.Current())
	}
	if len(changes) != 1 {
		t.Errorf("expected one change, got %v", changes)
	}
	if nav.Origin() != PathChat {
		t.Errorf("Origin = %q, want %s", nav.Origin(), PathChat)
	}
}

func TestLoadingDoesNotMove(t *testing.T) {
	nav := NewNavigator(PathLogin)
	nav.Go(pending, Target{Path: PathDashboard, RequiresAuth: true})
	if nav.Current() != PathLogin {
		t.Errorf("Current = %q, want %s", nav.Current(), PathLogin)
	}
}

func TestAuthenticatedUserOnLoginGoesToDashboard(t *testing.T) {
	nav := NewNavigator("")
	d := nav.Go(alice, Target{Path: PathLogin})
	if d.Path != PathDashboard || nav.Current() != PathDashboard {
		t.Errorf("got %+v at %s", d, nav.Current())
	}
}
