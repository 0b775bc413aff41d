package auth

import (
	"context"
	"fmt"
)

// Role is the marketplace role carried by an authenticated caller.
type Role string

const (
	RoleFarmer        Role = "farmer"
	RoleCustomer      Role = "customer"
	RoleDeliveryAgent Role = "delivery_agent"
	RoleAdmin         Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleCustomer, RoleDeliveryAgent, RoleAdmin:
		return true
	}
	return false
}

// Caller is the request-scoped identity passed explicitly into every service
// call. It is never read from client-supplied bodies.
type Caller struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (c Caller) String() string {
	return fmt.Sprintf("%s:%d", c.Role, c.ID)
}

// Is reports whether the caller holds one of the given roles.
func (c Caller) Is(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

type callerKey struct{}

// WithCaller stores the caller in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
