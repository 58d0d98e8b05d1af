package ports

import (
	"context"

	"github.com/importauto/leadline/internal/core/domain"
)

// FlowSubmissionRepository stores completed interactive forms.
type FlowSubmissionRepository interface {
	Save(ctx context.Context, s domain.FlowSubmission) error
}

// FlowTokenClaims is what a verified correlation token tells about a form session.
type FlowTokenClaims struct {
	TokenID    string
	Identifier string
}

// FlowTokenIssuer mints and verifies per-send form correlation tokens.
type FlowTokenIssuer interface {
	Issue(identifier string) (string, error)
	Verify(token string) (FlowTokenClaims, error)
}
