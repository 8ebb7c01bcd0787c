package auth

import (
	"context"
	"errors"
)

// Role names. Keep these stable; they are persisted on users and carried in tokens.
const (
	RoleITAdmin        = "IT_ADMIN"
	RoleHRUser         = "HR_USER"
	RoleFinanceManager = "FINANCE_MANAGER"
	RoleEmployee       = "EMPLOYEE"
)

var knownRoles = map[string]struct{}{
	RoleITAdmin:        {},
	RoleHRUser:         {},
	RoleFinanceManager: {},
	RoleEmployee:       {},
}

// IsKnownRole reports whether role belongs to the closed role set.
func IsKnownRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

var (
	ErrUnauthenticated = errors.New("User not authenticated")
	ErrTenantMissing   = errors.New("Company ID not found in session")
	ErrForbidden       = errors.New("insufficient role")
)

// Session is the authenticated caller of a service operation.
// It is passed explicitly; nothing in the services reads identity from globals.
type Session struct {
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"company_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Validate checks the pre-conditions every tenant-scoped operation shares.
func (s *Session) Validate() error {
	if s == nil || s.UserID == "" {
		return ErrUnauthenticated
	}
	if s.TenantID == "" {
		return ErrTenantMissing
	}
	return nil
}

// RequireRole validates the session and checks it carries one of roles.
func (s *Session) RequireRole(roles ...string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, r := range roles {
		if s.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

type ctxKey struct{}

// WithSession stores the session in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session stored by WithSession, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
