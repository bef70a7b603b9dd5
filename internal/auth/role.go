// Package auth models the MediWay user roles and the claims the kiosk reads
// from registration API tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a closed set; the zero value is not a valid role.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleDoctor
	RolePatient
	RoleStaff
)

// ErrUnknownRole is returned for role names outside the closed set.
var ErrUnknownRole = errors.New("auth: unknown role")

var roleNames = map[Role]string{
	RoleAdmin:   "admin",
	RoleDoctor:  "doctor",
	RolePatient: "patient",
	RoleStaff:   "staff",
}

// homeRoutes is where each role lands after signing in.
var homeRoutes = map[Role]string{
	RoleAdmin:   "/admin/dashboard",
	RoleDoctor:  "/doctor/dashboard",
	RolePatient: "/patient/dashboard",
	RoleStaff:   "/staff/checkin",
}

// ParseRole maps the API's role string to a Role. Matching ignores case and
// surrounding whitespace.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// HomeRoute returns the destination route for the role.
func (r Role) HomeRoute() (string, error) {
	route, ok := homeRoutes[r]
	if !ok {
		return "", ErrUnknownRole
	}
	return route, nil
}

// CanResetKiosk reports whether the role may reset a kiosk's wizard.
func (r Role) CanResetKiosk() bool {
	return r == RoleAdmin || r == RoleStaff
}
