package identity

import (
	"context"

	"github.com/quayside-labs/saaskit/pkg/observability"
)

// Mailer delivers purpose tokens to users. The transport is deployment
// specific; the service only cares that delivery was attempted.
type Mailer interface {
	SendToken(ctx context.Context, email string, purpose TokenPurpose, token string) error
}

// LogMailer writes deliveries to the structured log instead of sending mail.
// Development and test deployments run with this; the token shows up in the
// log for manual redemption.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a log-backed mailer.
func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendToken logs the delivery.
func (m *LogMailer) SendToken(_ context.Context, email string, purpose TokenPurpose, token string) error {
	m.logger.WithFields(map[string]interface{}{
		"email":   email,
		"purpose": string(purpose),
		"token":   token,
	}).Info("token delivery")
	return nil
}
