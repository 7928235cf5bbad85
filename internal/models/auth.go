package models

// AuthStatus is the process-wide authentication status.
type AuthStatus string

const (
	StatusUnauthenticated AuthStatus = "unauthenticated"
	StatusAuthenticating  AuthStatus = "authenticating"
	StatusAuthenticated   AuthStatus = "authenticated"
)

// AuthState is a snapshot of the session gate.
// Status == StatusAuthenticated implies User != nil.
type AuthState struct {
	Status AuthStatus
	User   *User
}

// Authenticated reports whether the state carries a logged-in user.
func (s AuthState) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}
