package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

// AccessTokenPayload is what a caller supplies when minting a token. JTI is
// generated when empty.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims is the JWT the identity service issues to buyers,
// sellers and admins.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

var _ jwt.ClaimsValidator = (*AccessTokenClaims)(nil)

// Validate runs after the registered claims checks during parsing. The
// system role is never issued to HTTP callers.
func (c *AccessTokenClaims) Validate() error {
	return validateSubject(c.UserID, c.Role)
}

func validateSubject(userID uuid.UUID, role enums.ActorRole) error {
	if userID == uuid.Nil {
		return errors.New("token has no user id")
	}
	if role == enums.ActorRoleSystem || !role.IsValid() {
		return fmt.Errorf("invalid actor role %q", role)
	}
	return nil
}
