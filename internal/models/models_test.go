package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2024-03-01T10:20:30Z"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"iso local", `"2024-03-01T10:20:30"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.Local)},
		{"iso local fraction", `"2024-03-01T10:20:30.123"`, time.Date(2024, 3, 1, 10, 20, 30, 123000000, time.Local)},
		{"dto pattern", `"2024-03-01 10:20:30"`, time.Date(2024, 3, 1, 10, 20, 30, 0, time.Local)},
		{"epoch millis", `1709288430000`, time.UnixMilli(1709288430000)},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
				t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, ts.Time, tt.want)
			}
		})
	}
}

func TestTimestampUnmarshalRejectsGarbage(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unrecognized timestamp")
	}
}

func TestTokenCountUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want TokenCount
	}{
		{"number", `42`, 42},
		{"float", `42.0`, 42},
		{"numeric string", `"17"`, 17},
		{"usage document", `"{\"totalTokens\": 120, \"promptTokens\": 80}"`, 120},
		{"unparseable document", `"n/a"`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tc TokenCount
			if err := json.Unmarshal([]byte(tt.in), &tc); err != nil {
				t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
			}
			if tc != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.in, tc, tt.want)
			}
		})
	}
}

func TestCachedUserRoleMapping(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  Role
	}{
		{"plain user", []string{"USER"}, RoleUser},
		{"admin", []string{"USER", "ADMIN"}, RoleAdmin},
		{"spring prefixed admin", []string{"ROLE_ADMIN"}, RoleAdmin},
		{"no roles", nil, RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := JWTResponse{ID: 7, Username: "alice", Roles: tt.roles}
			u := resp.CachedUser()
			if u.Role != tt.want {
				t.Errorf("CachedUser().Role = %s, want %s", u.Role, tt.want)
			}
			if u.Username != "alice" || u.ID != 7 {
				t.Errorf("CachedUser() = %+v, identity not copied", u)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	user := &User{Role: RoleUser}
	var none *User

	if !admin.HasRole(RoleUser) {
		t.Error("admin should hold USER")
	}
	if user.HasRole(RoleAdmin) {
		t.Error("user should not hold ADMIN")
	}
	if none.HasRole(RoleUser) {
		t.Error("nil user should hold nothing")
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	for _, s := range []SessionStatus{SessionEnded, SessionArchived, SessionDeleted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionStatus{SessionActive, SessionPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
