package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

const flowTokenIssuer = "leadline"

// FlowTokens issues and verifies the correlation token attached to every
// form prompt, so a later form request can be tied back to the client.
type FlowTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.FlowTokenIssuer = (*FlowTokens)(nil)

func NewFlowTokens(secret string, ttl time.Duration) *FlowTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FlowTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *FlowTokens) Issue(identifier string) (string, error) {
	if identifier == "" {
		return "", errors.New("flow token: empty identifier")
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   identifier,
		Issuer:    flowTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("flow token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry. Failures wrap
// domain.ErrInvalidFlowToken.
func (t *FlowTokens) Verify(token string) (ports.FlowTokenClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(flowTokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return ports.FlowTokenClaims{}, fmt.Errorf("%w: %v", domain.ErrInvalidFlowToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return ports.FlowTokenClaims{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidFlowToken)
	}
	return ports.FlowTokenClaims{TokenID: claims.ID, Identifier: claims.Subject}, nil
}
