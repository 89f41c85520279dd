package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is the transactional outbox row behind every domain event
// (import completed, forecast run finished, variance rebuilt). It is written
// inside the producing operation's transaction and published to Pub/Sub
// asynchronously by the outbox dispatcher after commit.
type EventRecord struct {
	ID          int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	CompanyId   string            `gorm:"size:36;not null;index" json:"company_id"`
	EventType   ForecastEventType `gorm:"size:50;not null" json:"event_type"`
	PayloadJSON []byte            `gorm:"type:json" json:"payload"`
	OccurredAt  time.Time         `gorm:"index;not null" json:"occurred_at"`

	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	Actor            string     `gorm:"size:100" json:"actor"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueEvent writes an outbox row inside the caller's transaction. It does
// NOT publish; the dispatcher picks the row up after commit.
func EnqueueEvent(tx *gorm.DB, ctx context.Context, companyId string, eventType ForecastEventType, payload interface{}) error {

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := EventRecord{
		CompanyId:     companyId,
		EventType:     eventType,
		PayloadJSON:   payloadJSON,
		OccurredAt:    time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		Actor:         actorFromContext(ctx),
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return utils.NewStorageError("enqueue event", err)
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func actorFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetUserNameFromContext(ctx); ok {
			return v
		}
	}
	return ""
}

func ConvertToEventMessage(record EventRecord) config.EventMessage {
	return config.EventMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		EventType:     string(record.EventType),
		OccurredAt:    record.OccurredAt,
		Payload:       record.PayloadJSON,
		CorrelationId: record.CorrelationId,
		Actor:         record.Actor,
	}
}

// ReplayOutboxEvents reverts DEAD or FAILED rows of a company back to
// PENDING so the dispatcher retries them. Returns how many rows were
// requeued.
func ReplayOutboxEvents(ctx context.Context, companyId string, eventType ForecastEventType) (int64, error) {

	now := time.Now().UTC()
	db := config.GetDB()

	dbCtx := db.WithContext(ctx).
		Model(&EventRecord{}).
		Where("company_id = ? AND publish_status IN ?", companyId,
			[]string{OutboxPublishStatusDead, OutboxPublishStatusFailed})
	if eventType != "" {
		dbCtx = dbCtx.Where("event_type = ?", eventType)
	}
	res := dbCtx.Updates(map[string]interface{}{
		"locked_at":          nil,
		"locked_by":          nil,
		"publish_status":     OutboxPublishStatusPending,
		"next_attempt_at":    &now,
		"publish_attempts":   0,
		"last_publish_error": nil,
	})
	if res.Error != nil {
		return 0, utils.NewStorageError("replay outbox events", res.Error)
	}
	return res.RowsAffected, nil
}

// GetOutboxBacklog summarizes undelivered rows per status, for health
// reporting.
func GetOutboxBacklog(ctx context.Context, companyId string) (map[string]int64, error) {

	db := config.GetDB()
	var rows []struct {
		PublishStatus string
		Total         int64
	}
	dbCtx := db.WithContext(ctx).Model(&EventRecord{}).
		Select("publish_status, COUNT(*) AS total").
		Where("publish_status <> ?", OutboxPublishStatusSent)
	if companyId != "" {
		dbCtx = dbCtx.Where("company_id = ?", companyId)
	}
	if err := dbCtx.Group("publish_status").Scan(&rows).Error; err != nil {
		return nil, utils.NewStorageError("outbox backlog", err)
	}

	backlog := make(map[string]int64, len(rows))
	for _, row := range rows {
		backlog[row.PublishStatus] = row.Total
	}
	return backlog, nil
}
