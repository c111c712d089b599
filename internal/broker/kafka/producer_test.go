package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/models"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func milestoneEvent(t *testing.T) messages.DeskEvent {
	t.Helper()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	ev, err := models.NewOutboxEvent(models.EventShipmentMilestoneAdded, "shp-1", messages.MilestoneAdded{
		ShipmentID: "shp-1",
		Seq:        2,
		Type:       string(models.ShipmentStatusLoading),
		PrevStatus: string(models.ShipmentStatusDispatched),
		Timestamp:  at,
		RecordedBy: "dana (ops)",
	}, at)
	require.NoError(t, err)
	return messages.DeskEvent{
		ID:          ev.ID,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		OccurredAt:  ev.OccurredAt,
		Payload:     ev.Payload,
	}
}

func TestProducer_PublishEvent_KeyedByAggregate(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)
	ev := milestoneEvent(t)

	require.NoError(t, p.PublishEvent(context.Background(), "desk.events", ev))
	require.Len(t, fw.last, 1)
	msg := fw.last[0]
	require.Equal(t, "desk.events", msg.Topic)
	require.Equal(t, []byte("shp-1"), msg.Key)
	require.Equal(t, []kafka.Header{
		{Key: HeaderEventType, Value: []byte(models.EventShipmentMilestoneAdded)},
		{Key: HeaderEventID, Value: []byte(ev.ID)},
	}, msg.Headers)

	var env messages.DeskEvent
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	require.Equal(t, ev.ID, env.ID)
	require.Equal(t, "shp-1", env.AggregateID)
	var added messages.MilestoneAdded
	require.NoError(t, json.Unmarshal(env.Payload, &added))
	require.Equal(t, 2, added.Seq)
	require.Equal(t, string(models.ShipmentStatusDispatched), added.PrevStatus)
	require.NoError(t, p.Close())
}

func TestProducer_PublishEvent_RejectsEventWithoutAggregate(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)
	ev := milestoneEvent(t)
	ev.AggregateID = ""

	err := p.PublishEvent(context.Background(), "desk.events", ev)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no aggregate id")
	require.Empty(t, fw.last)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
