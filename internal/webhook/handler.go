package webhook

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/observability"
)

// Syncer is the slice of the sync engine the handler needs.
type Syncer interface {
	SyncSingle(ctx context.Context, userID string, activityID int64, invalidate bool) error
	DeleteActivity(ctx context.Context, activityID int64) error
}

// EventLog persists webhook notifications and their processing outcome. Rows
// recorded with a non-nil processing error stay unprocessed and are owned by
// the re-driver from then on.
type EventLog interface {
	RecordWebhookEvent(ctx context.Context, event domain.WebhookEvent, processErr error) error
}

// SyncHandler applies webhook notifications to the points store via the sync
// engine.
type SyncHandler struct {
	engine Syncer
	log    EventLog
	logger *zap.Logger
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(engine Syncer, log EventLog, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{engine: engine, log: log, logger: logger}
}

// Handle runs the sync for one notification and records the outcome. Sync
// failures are absorbed into the event log so the processor can commit the
// record and the re-driver can retry later; only a log write failure
// propagates.
func (h *SyncHandler) Handle(ctx context.Context, event Notification) error {
	syncErr := h.apply(ctx, event)
	if errors.Is(syncErr, domain.ErrUnsupportedSport) {
		// Not an error: the notification is simply about a sport the league
		// does not score.
		h.logger.Debug("ignoring unsupported sport",
			zap.Int64("activity_id", event.ActivityID), zap.String("owner_id", event.OwnerID))
		syncErr = nil
	}

	record := domain.WebhookEvent{
		ID:         event.ID,
		Kind:       event.Kind,
		ActivityID: event.ActivityID,
		OwnerID:    event.OwnerID,
		EventTime:  event.EventTime,
	}
	if err := h.log.RecordWebhookEvent(ctx, record, syncErr); err != nil {
		return err
	}

	if syncErr != nil {
		h.logger.Warn("webhook sync failed, queued for re-drive",
			zap.String("kind", event.Kind), zap.Int64("activity_id", event.ActivityID),
			zap.Error(syncErr))
		return nil
	}

	observability.RecordWebhookProcessed(event.EventTime)
	return nil
}

func (h *SyncHandler) apply(ctx context.Context, event Notification) error {
	switch event.Kind {
	case domain.WebhookCreate:
		return h.engine.SyncSingle(ctx, event.OwnerID, event.ActivityID, false)
	case domain.WebhookUpdate:
		// Updates invalidate the cached detail so the re-fetch sees the edit.
		return h.engine.SyncSingle(ctx, event.OwnerID, event.ActivityID, true)
	case domain.WebhookDelete:
		return h.engine.DeleteActivity(ctx, event.ActivityID)
	default:
		return nil
	}
}
