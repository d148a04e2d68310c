package enums

import "slices"

// ActorRole identifies who is acting on an order.
type ActorRole string

const (
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleUser   ActorRole = "user"
	ActorRoleSystem ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleUser,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is recognized.
func (r ActorRole) IsValid() bool {
	return slices.Contains(validActorRoles, r)
}
