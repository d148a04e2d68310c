package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "bookswap-identity"}

func TestMintAndParseAccessToken(t *testing.T) {
	userID := uuid.New()
	token, err := MintAccessToken(testJWT, time.Now().UTC(), time.Hour, AccessTokenPayload{UserID: userID, Role: enums.ActorRoleUser, JTI: "jti-1"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.ActorRoleUser, claims.Role)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "jti-1", claims.ID)
}

func TestParseToleratesClockSkew(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-time.Hour-10*time.Second), time.Hour, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	require.NoError(t, err)
	_, err = ParseAccessToken(testJWT, token)
	require.NoError(t, err)
}

func TestParseAccessTokenRejects(t *testing.T) {
	now := time.Now().UTC()
	valid := AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	otherIssuer, err := MintAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, now, time.Hour, valid)
	require.NoError(t, err)
	otherSecret, err := MintAccessToken(config.JWTConfig{Secret: "nope", Issuer: testJWT.Issuer}, now, time.Hour, valid)
	require.NoError(t, err)
	system, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.ActorRoleSystem,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"other issuer": otherIssuer,
		"other secret": otherSecret,
		"system role":  system,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAccessToken(testJWT, token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), time.Hour, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	require.NoError(t, err)
	_, err = ParseAccessToken(testJWT, token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestMintAccessTokenValidatesInput(t *testing.T) {
	now := time.Now()
	_, err := MintAccessToken(testJWT, now, time.Hour, AccessTokenPayload{Role: enums.ActorRoleUser})
	require.Error(t, err)
	_, err = MintAccessToken(testJWT, now, time.Hour, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleSystem})
	require.Error(t, err)
	_, err = MintAccessToken(testJWT, now, 0, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	require.Error(t, err)
	_, err = MintAccessToken(config.JWTConfig{}, now, time.Hour, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	require.Error(t, err)
}
