// Package policy decides who may mutate what. Every handler that writes a
// listing goes through Guard.Sanitize; nothing else strips or honours the
// privileged review fields.
package policy

import "cleartitle/internal/models"

// Role is an actor's standing relative to one record.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
)

// Actor is the caller of an operation as established by the token issuer.
// Role is only meaningful after For has resolved it against a record.
type Actor struct {
	ID          string
	AccountRole string
	IP          string
	Role        Role
}

func Anonymous(ip string) Actor {
	return Actor{IP: ip, Role: RoleAnonymous}
}

func (a Actor) IsAuthenticated() bool {
	return a.ID != ""
}

func (a Actor) IsAdmin() bool {
	return a.AccountRole == models.RoleAdmin
}

// IDPtr returns the actor id for nullable columns.
func (a Actor) IDPtr() *string {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

// For resolves the actor's role against a record owned by ownerID.
func (a Actor) For(ownerID string) Actor {
	switch {
	case a.IsAdmin():
		a.Role = RoleAdmin
	case a.IsAuthenticated() && ownerID != "" && a.ID == ownerID:
		a.Role = RoleOwner
	default:
		a.Role = RoleAnonymous
	}
	return a
}
