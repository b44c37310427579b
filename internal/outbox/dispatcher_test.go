package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	written map[string][]kafka.Message
	err     error
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.written == nil {
		w.written = make(map[string][]kafka.Message)
	}
	w.written[topic] = append(w.written[topic], msgs...)
	return nil
}

type stubRegistry struct {
	calls int
	id    int
	err   error
}

func (r *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, r.err
}

func testDispatcher(writer *stubWriter, registry *stubRegistry) *Dispatcher {
	return NewDispatcher(nil, writer, registry, 0, 10, nil)
}

func TestDeliverFramesAndRoutesMessages(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 7}
	d := testDispatcher(writer, registry)

	payload := []byte(`{"user_id":"u1","event_id":"e1","activity_id":1,"activity_date":"2026-03-02","base_points":5,"final_points":15,"blocked":false,"version":"1"}`)
	err := d.deliver(context.Background(), []Message{{
		EventID:       1,
		EventType:     EventTypeScoreUpdated,
		Topic:         "score_events",
		SchemaSubject: "score_events-value",
		PartitionKey:  "u1",
		Payload:       payload,
	}})
	require.NoError(t, err)

	require.Len(t, writer.written["score_events"], 1)
	record := writer.written["score_events"][0]
	require.Equal(t, []byte("u1"), record.Key)

	// Confluent wire format: magic byte, schema id, then the payload.
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, string(payload), string(record.Value[5:]))

	require.Equal(t, EventTypeScoreUpdated, headerString(t, record, "event_type"))
}

func TestDeliverCachesSchemaIDPerSubject(t *testing.T) {
	writer := &stubWriter{}
	registry := &stubRegistry{id: 3}
	d := testDispatcher(writer, registry)

	msg := Message{
		EventType:     EventTypeSyncCompleted,
		Topic:         "sync_events",
		SchemaSubject: "sync_events-value",
		PartitionKey:  "u1",
		Payload:       []byte(`{"user_id":"u1","synced":2,"skipped":0,"errors":0,"version":"1"}`),
	}

	require.NoError(t, d.deliver(context.Background(), []Message{msg}))
	require.NoError(t, d.deliver(context.Background(), []Message{msg}))

	require.Equal(t, 1, registry.calls)
	require.Len(t, writer.written["sync_events"], 2)
}

func TestDeliverRejectsUnknownEventTypes(t *testing.T) {
	d := testDispatcher(&stubWriter{}, &stubRegistry{id: 1})

	err := d.deliver(context.Background(), []Message{{EventType: "mystery.event"}})
	require.Error(t, err)
}

func TestDeliverPropagatesWriterError(t *testing.T) {
	writeErr := errors.New("broker down")
	d := testDispatcher(&stubWriter{err: writeErr}, &stubRegistry{id: 1})

	err := d.deliver(context.Background(), []Message{{
		EventType:     EventTypeScoreUpdated,
		Topic:         "score_events",
		SchemaSubject: "score_events-value",
		Payload:       []byte(`{}`),
	}})
	require.ErrorIs(t, err, writeErr)
}

func headerString(t *testing.T, msg kafka.Message, key string) string {
	t.Helper()
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	t.Fatalf("header %q not found", key)
	return ""
}
