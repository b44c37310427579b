package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func webhookMessage(aspect string, activityID, ownerID int64) kafka.Message {
	return kafka.Message{
		Topic:     "webhook_events",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value: []byte(fmt.Sprintf(
			`{"aspect_type":%q,"object_type":"activity","object_id":%d,"owner_id":%d,"event_time":1769904000}`,
			aspect, activityID, ownerID)),
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{webhookMessage("create", 123, 42)},
		after:    contextCanceled,
	}
	handler := &stubNotificationHandler{}

	processor := NewProcessor(reader, handler)

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "create", handler.last.Kind)
	require.Equal(t, int64(123), handler.last.ActivityID)
	require.Equal(t, "42", handler.last.OwnerID)
	require.Equal(t, time.Unix(1769904000, 0).UTC(), handler.last.EventTime)
	require.NotEmpty(t, handler.last.ID)
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{webhookMessage("delete", 7, 42)},
		after:    contextCanceled,
	}
	handler := &stubNotificationHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler)

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	malformed := kafka.Message{Topic: "webhook_events", Value: []byte("not json")}
	athlete := kafka.Message{
		Topic: "webhook_events",
		Value: []byte(`{"aspect_type":"update","object_type":"athlete","object_id":1,"owner_id":2,"event_time":0}`),
	}

	reader := &stubReader{
		messages: []kafka.Message{malformed, athlete},
		after:    contextCanceled,
	}
	handler := &stubNotificationHandler{}

	processor := NewProcessor(reader, handler)

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Both records are committed without reaching the handler.
	require.Equal(t, 0, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubNotificationHandler struct {
	calls int
	err   error
	last  Notification
}

func (h *stubNotificationHandler) Handle(_ context.Context, event Notification) error {
	h.calls++
	h.last = event
	return h.err
}
