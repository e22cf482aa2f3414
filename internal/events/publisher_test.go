package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Backends(t *testing.T) {
	pub, err := New(Config{Backend: "none"})
	require.NoError(t, err)
	assert.NoError(t, pub.Publish(context.Background(), core.Event{Name: core.EventBatchCreated}))
	assert.NoError(t, pub.Close())

	pub, err = New(Config{Backend: "GoChannel", Logger: quietLogger()})
	require.NoError(t, err)
	assert.IsType(t, &WatermillPublisher{}, pub)
	assert.NoError(t, pub.Close())

	_, err = New(Config{Backend: "kafka"})
	assert.Error(t, err)

	_, err = New(Config{Backend: "nats"})
	assert.ErrorContains(t, err, "unknown events backend")
}

func TestTopic(t *testing.T) {
	p := &WatermillPublisher{prefix: "ledgermigrate"}
	assert.Equal(t, "ledgermigrate.import.batch.committed", p.Topic(core.EventBatchCommitted))

	p.prefix = ""
	assert.Equal(t, "export.completed", p.Topic(core.EventExportCompleted))
}

func TestGoChannel_PublishAndListen(t *testing.T) {
	pub := NewGoChannelPublisher(Config{TopicPrefix: "test", Logger: quietLogger()})
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 1)
	require.NoError(t, pub.Listen(ctx, core.EventBatchCommitted, func(env Envelope) error {
		received <- env
		return nil
	}))

	occurred := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := pub.Publish(ctx, core.Event{
		Name:       core.EventBatchCommitted,
		OccurredAt: occurred,
		Meta:       core.RequestMeta{IPAddress: "10.0.0.1"},
		Payload: core.BatchCommittedPayload{
			BatchID:      "b-1",
			ImportedRows: 9,
			SkippedRows:  1,
		},
	})
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, core.EventBatchCommitted, env.Name)
		assert.NotEmpty(t, env.ID)
		assert.True(t, occurred.Equal(env.OccurredAt))
		assert.Equal(t, "10.0.0.1", env.Meta.IPAddress)

		var payload core.BatchCommittedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "b-1", payload.BatchID)
		assert.Equal(t, 9, payload.ImportedRows)
		assert.Equal(t, 1, payload.SkippedRows)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestGoChannel_OtherTopicsNotDelivered(t *testing.T) {
	pub := NewGoChannelPublisher(Config{Logger: quietLogger()})
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 1)
	require.NoError(t, pub.Listen(ctx, core.EventBatchReverted, func(env Envelope) error {
		received <- env
		return nil
	}))

	require.NoError(t, pub.Publish(ctx, core.Event{Name: core.EventBatchCreated, Payload: map[string]string{}}))

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery of %s", env.Name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_UnmarshalablePayload(t *testing.T) {
	pub := NewGoChannelPublisher(Config{Logger: quietLogger()})
	defer pub.Close()

	err := pub.Publish(context.Background(), core.Event{Name: "bad", Payload: make(chan int)})
	assert.ErrorContains(t, err, "marshal")
}

func TestListen_KafkaHasNoLocalSubscriber(t *testing.T) {
	p := &WatermillPublisher{logger: quietLogger()}
	err := p.Listen(context.Background(), core.EventBatchCreated, func(Envelope) error { return nil })
	assert.ErrorIs(t, err, ErrNoSubscriber)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, core.Event{Name: core.EventBatchCreated}))
	require.NoError(t, r.Publish(ctx, core.Event{Name: core.EventBatchCommitted}))
	require.NoError(t, r.Publish(ctx, core.Event{Name: core.EventBatchCreated}))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.Named(core.EventBatchCreated), 2)
	assert.Empty(t, r.Named(core.EventBatchReverted))

	r.Reset()
	assert.Empty(t, r.Events())
}

var _ Publisher = (*Recorder)(nil)
var _ Publisher = (*WatermillPublisher)(nil)
