// Package webhook consumes provider push notifications from Kafka and turns
// them into point activity syncs.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded webhook notifications.
type Handler interface {
	Handle(context.Context, Notification) error
}

// Notification is the decoded representation of one provider push record.
type Notification struct {
	ID         string
	Topic      string
	Partition  int
	Offset     int64
	Timestamp  time.Time
	Kind       string
	ActivityID int64
	OwnerID    string
	EventTime  time.Time
}

// wirePayload matches the JSON body the provider posts to the webhook
// endpoint, forwarded verbatim onto the topic.
type wirePayload struct {
	AspectType string `json:"aspect_type"`
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	OwnerID    int64  `json:"owner_id"`
	EventTime  int64  `json:"event_time"`
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls webhook records from Kafka, decodes them, and dispatches to
// a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *zap.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes webhook records until the context
// is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		event, decodeErr := decodeNotification(msg)
		if decodeErr != nil {
			p.logger.Warn("decode error",
				zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset), zap.Error(decodeErr))
			recordDecodeError(msg.Topic)
			// Commit malformed records to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Warn("commit error after decode failure", zap.Error(commitErr))
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, event); handleErr != nil {
			p.logger.Warn("handler error",
				zap.String("kind", event.Kind), zap.Int64("activity_id", event.ActivityID),
				zap.Error(handleErr))
			recordHandlerError(event)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Warn("commit error", zap.Error(commitErr))
		} else {
			recordProcessed(event)
		}
	}
}

func decodeNotification(msg kafka.Message) (Notification, error) {
	var wire wirePayload
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		return Notification{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if wire.ObjectType != "activity" {
		return Notification{}, fmt.Errorf("unsupported object type %q", wire.ObjectType)
	}
	switch wire.AspectType {
	case "create", "update", "delete":
	default:
		return Notification{}, fmt.Errorf("unsupported aspect type %q", wire.AspectType)
	}
	if wire.ObjectID == 0 {
		return Notification{}, errors.New("missing object_id")
	}

	return Notification{
		ID:         uuid.New().String(),
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		Timestamp:  msg.Time,
		Kind:       wire.AspectType,
		ActivityID: wire.ObjectID,
		OwnerID:    strconv.FormatInt(wire.OwnerID, 10),
		EventTime:  time.Unix(wire.EventTime, 0).UTC(),
	}, nil
}
