package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// ErrInvalidClaims marks a well-signed token whose claims orderdesk rejects.
var ErrInvalidClaims = errors.New("invalid token claims")

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	BusinessID *uuid.UUID
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by clients. Only
// customer and staff roles are ever carried by a token; the system actor is
// reserved for verified gateway callbacks.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	Role       enums.ActorRole `json:"role"`
	BusinessID *uuid.UUID      `json:"business_id,omitempty"`
	jwt.RegisteredClaims
}

func checkIdentity(userID uuid.UUID, role enums.ActorRole, businessID *uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id missing", ErrInvalidClaims)
	}
	switch role {
	case enums.ActorRoleCustomer:
		return nil
	case enums.ActorRoleStaff:
		if businessID == nil || *businessID == uuid.Nil {
			return fmt.Errorf("%w: staff token without business id", ErrInvalidClaims)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidClaims, role)
	}
}
