package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entities that appear in the audit trail. Approval decisions are kept on
// the flow instance itself, so only administrative changes land here.
const (
	AuditEntityUser    = "user"
	AuditEntityRule    = "approval_rule"
	AuditEntityCompany = "company"
)

// AuditLog is one row of the audit_logs table.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// UserAudit builds an entry for a user lifecycle change.
func UserAudit(actorID int64, action string, userID int64, meta map[string]any) AuditLog {
	return AuditLog{ActorID: actorID, Action: action, Entity: AuditEntityUser, EntityID: strconv.FormatInt(userID, 10), Meta: meta}
}

// RuleAudit builds an entry for an approval-rule change. Rule IDs are
// UUIDs, so the caller passes the string form.
func RuleAudit(actorID int64, action, ruleID string, meta map[string]any) AuditLog {
	return AuditLog{ActorID: actorID, Action: action, Entity: AuditEntityRule, EntityID: ruleID, Meta: meta}
}

// CompanyAudit builds an entry for a company settings change.
func CompanyAudit(actorID int64, action string, companyID int64, meta map[string]any) AuditLog {
	return AuditLog{ActorID: actorID, Action: action, Entity: AuditEntityCompany, EntityID: strconv.FormatInt(companyID, 10), Meta: meta}
}

// AuditLogger appends to the audit trail. Writes are best effort at the
// call sites; a failed insert never rolls back the business change.
type AuditLogger struct {
	pool *pgxpool.Pool
}

func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record inserts the entry. A zero At defaults to the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.At)
	return err
}
