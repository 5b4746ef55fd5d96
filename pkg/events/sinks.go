package events

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/quayside-labs/saaskit/pkg/observability"
)

// LogSink writes every event to the structured log.
func LogSink(logger *observability.Logger) Handler {
	return func(_ context.Context, event Event) {
		entry := logger.WithField("event", event.Name)
		if event.AccountID != 0 {
			entry = entry.WithField("account_id", event.AccountID)
		}
		if event.ActorID != 0 {
			entry = entry.WithField("actor_id", event.ActorID)
		}
		if event.UserID != 0 {
			entry = entry.WithField("user_id", event.UserID)
		}
		entry.Info("domain event")
	}
}

// AuditSink appends every event to the audit_log table. Write failures are
// logged, not propagated: the audit trail is best-effort relative to the
// operation itself.
func AuditSink(db *sql.DB, logger *observability.Logger) Handler {
	return func(ctx context.Context, event Event) {
		var metadata any
		if len(event.Payload) > 0 {
			raw, err := json.Marshal(event.Payload)
			if err != nil {
				logger.WithError(err).WithField("event", event.Name).
					Error("failed to encode audit metadata")
				return
			}
			metadata = string(raw)
		}

		actorID := nullableID(event.ActorID)
		userID := nullableID(event.UserID)
		accountID := nullableID(event.AccountID)

		_, err := db.ExecContext(ctx, `
			INSERT INTO audit_log (name, actor_id, user_id, account_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, event.Name, actorID, userID, accountID, metadata, event.OccurredAt)
		if err != nil {
			logger.WithError(err).WithField("event", event.Name).
				Error("failed to write audit log entry")
		}
	}
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
