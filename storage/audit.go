package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records one row per gateway response. Append-only; failures
// to write are logged by the caller, never surfaced to the client.
type AuditLog struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditLog wraps an open database.
func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db, now: time.Now}
}

// AuditEntry is one recorded request outcome.
type AuditEntry struct {
	CorrelationID string
	Actor         string
	Method        string
	Path          string
	Status        int
	Detail        string
}

// Append writes one audit row.
func (l *AuditLog) Append(ctx context.Context, entry AuditEntry) error {
	model := AuditEventModel{
		ID:            uuid.NewString(),
		CorrelationID: entry.CorrelationID,
		Actor:         entry.Actor,
		Method:        entry.Method,
		Path:          entry.Path,
		Status:        entry.Status,
		Detail:        entry.Detail,
		CreatedAt:     l.now().UTC(),
	}
	return l.db.WithContext(ctx).Create(&model).Error
}

// ByCorrelation lists rows for one correlation id in write order.
func (l *AuditLog) ByCorrelation(ctx context.Context, correlationID string) ([]AuditEntry, error) {
	var models []AuditEventModel
	err := l.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(models))
	for _, m := range models {
		out = append(out, AuditEntry{
			CorrelationID: m.CorrelationID,
			Actor:         m.Actor,
			Method:        m.Method,
			Path:          m.Path,
			Status:        m.Status,
			Detail:        m.Detail,
		})
	}
	return out, nil
}
