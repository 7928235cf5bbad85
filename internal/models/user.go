package models

import "slices"

// Role is the coarse authorization role of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the account record returned by GET /auth/me.
// Cached copies are advisory and never grant authorization on their own.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FullName  string     `json:"fullName"`
	Role      Role       `json:"role"`
	CreatedAt *Timestamp `json:"createdAt,omitempty"`
}

// HasRole reports whether the user holds role. Admins hold every role.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	return u.Role == role || u.Role == RoleAdmin
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=120"`
	FullName string `json:"fullName" validate:"required,max=100"`
}

// JWTResponse is the body returned by a successful login.
type JWTResponse struct {
	Token    string   `json:"token"`
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"fullName"`
	Roles    []string `json:"roles"`
}

// CachedUser derives the user snapshot stored next to the credential.
func (r *JWTResponse) CachedUser() User {
	role := RoleUser
	if slices.Contains(r.Roles, "ADMIN") || slices.Contains(r.Roles, "ROLE_ADMIN") {
		role = RoleAdmin
	}
	return User{
		ID:       r.ID,
		Username: r.Username,
		Email:    r.Email,
		FullName: r.FullName,
		Role:     role,
	}
}

// MessageResponse is the generic {"message": ...} acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}
