package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"kafka:9092", []string{"kafka:9092"}},
		{" a:1, ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseBrokers(tt.in), "input %q", tt.in)
	}

	_, err := NewKafkaPublisher(" , ", "orders")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestKafkaPublish(t *testing.T) {
	w := &stubWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	assert.Equal(t, testEvent().CreatedAt, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, model.EventOrderPlaced, string(msg.Headers[0].Value))

	var decoded model.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, testEvent().EventID, decoded.EventID)
	assert.Zero(t, decoded.ID, "storage id is not published")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublish_WriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &KafkaPublisher{writer: &stubWriter{err: boom}}

	assert.ErrorIs(t, p.Publish(context.Background(), testEvent()), boom)
}
