// Package authz decides whether an authenticated actor may act on a resource.
//
// The guard is a set of pure functions. Callers translate a false result into
// their own forbidden error; nothing here logs or mutates state.
package authz

import (
	"errors"
	"strings"
)

// Role is the closed set of capabilities an account can hold.
type Role string

const (
	RoleUser     Role = "USER"
	RoleLandlord Role = "LANDLORD"
	RoleAdmin    Role = "ADMIN"
)

// ErrUnknownRole is returned when a stored or supplied role is outside the closed set.
var ErrUnknownRole = errors.New("authz: unknown role")

// ParseRole validates a raw role value. Matching is exact, so stored rows
// must carry the canonical upper-case name.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser:
		return RoleUser, nil
	case RoleLandlord:
		return RoleLandlord, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", ErrUnknownRole
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleLandlord, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Actor is the authenticated identity passed into every service call.
type Actor struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the actor holds the elevated capability.
func (a Actor) IsAdmin() bool {
	return a.ID != "" && a.Role == RoleAdmin
}

// Authenticated reports whether the actor carries an identity at all.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != ""
}

// CanAct reports whether actorID may act on a resource owned by ownerID.
// counterpartyID may be empty when the resource has no second party.
func CanAct(actorID string, role Role, ownerID, counterpartyID string) bool {
	if actorID != "" && actorID == ownerID {
		return true
	}
	if actorID != "" && counterpartyID != "" && actorID == counterpartyID {
		return true
	}
	return role == RoleAdmin
}

// Rule selects which relationships satisfy an operation.
type Rule int

const (
	// OwnerOnly admits the resource owner and nobody else.
	OwnerOnly Rule = iota
	// OwnerOrCounterparty admits either party of a two-sided resource.
	OwnerOrCounterparty
	// OwnerOrAdmin admits the owner or an administrator.
	OwnerOrAdmin
	// PartyOrAdmin admits either party or an administrator.
	PartyOrAdmin
	// AdminOnly admits administrators regardless of ownership.
	AdminOnly
)

func (r Rule) String() string {
	switch r {
	case OwnerOnly:
		return "owner_only"
	case OwnerOrCounterparty:
		return "owner_or_counterparty"
	case OwnerOrAdmin:
		return "owner_or_admin"
	case PartyOrAdmin:
		return "party_or_admin"
	case AdminOnly:
		return "admin_only"
	default:
		return "unknown"
	}
}

// Resource names the parties attached to the entity being acted on.
type Resource struct {
	OwnerID        string
	CounterpartyID string
}

// Allow applies rule to actor and res. Unauthenticated actors are always denied.
func Allow(actor Actor, rule Rule, res Resource) bool {
	if !actor.Authenticated() {
		return false
	}
	switch rule {
	case OwnerOnly:
		// The role is masked so an administrator cannot stand in for the owner.
		return CanAct(actor.ID, "", res.OwnerID, "")
	case OwnerOrCounterparty:
		return CanAct(actor.ID, "", res.OwnerID, res.CounterpartyID)
	case OwnerOrAdmin:
		return CanAct(actor.ID, actor.Role, res.OwnerID, "")
	case PartyOrAdmin:
		return CanAct(actor.ID, actor.Role, res.OwnerID, res.CounterpartyID)
	case AdminOnly:
		return CanAct(actor.ID, actor.Role, "", "")
	default:
		return false
	}
}
