package lifecycle

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderdesk/pkg/errors"
)

// Actor is whoever is asking for a change. It is passed explicitly to every
// engine and policy call; nothing here reads identity from the request.
type Actor struct {
	Role   enums.ActorRole
	UserID *uuid.UUID
	// BusinessID scopes staff to the business whose orders they operate.
	BusinessID *uuid.UUID
}

// Staff builds a staff actor for businessID.
func Staff(userID, businessID uuid.UUID) Actor {
	return Actor{Role: enums.ActorRoleStaff, UserID: &userID, BusinessID: &businessID}
}

// Customer builds a customer actor.
func Customer(userID uuid.UUID) Actor {
	return Actor{Role: enums.ActorRoleCustomer, UserID: &userID}
}

// System is the actor used by payment reconciliation and background jobs.
func System() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// Validate checks that the role is known and that human actors carry an id.
func (a Actor) Validate() error {
	if !a.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown actor role")
	}
	if a.Role != enums.ActorRoleSystem && (a.UserID == nil || *a.UserID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return nil
}

// IsStaff reports whether the actor is staff.
func (a Actor) IsStaff() bool { return a.Role == enums.ActorRoleStaff }

// IsCustomer reports whether the actor is a customer.
func (a Actor) IsCustomer() bool { return a.Role == enums.ActorRoleCustomer }

// IsSystem reports whether the actor is the system.
func (a Actor) IsSystem() bool { return a.Role == enums.ActorRoleSystem }

// ID returns the user id or uuid.Nil for the system actor.
func (a Actor) ID() uuid.UUID {
	if a.UserID == nil {
		return uuid.Nil
	}
	return *a.UserID
}
