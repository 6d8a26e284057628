package session_test

import (
	"testing"
	"time"

	"github.com/srg/shoesensor/internal/sampler"
	"github.com/srg/shoesensor/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcher_Validation(t *testing.T) {
	tests := []struct {
		name     string
		consumer session.Consumer
		size     uint32
	}{
		{name: "nil consumer", consumer: nil, size: 8},
		{name: "zero buffer", consumer: &recordingConsumer{}, size: 0},
		{name: "buffer too large", consumer: &recordingConsumer{}, size: session.MaxDispatchBuffer + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := session.NewDispatcher(tt.consumer, tt.size, nil)
			assert.Error(t, err)
			assert.Nil(t, d)
		})
	}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	consumer := &recordingConsumer{}
	d, err := session.NewDispatcher(consumer, 64, nil)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		id := sampler.CharacteristicID("x")
		if i%2 == 0 {
			id = "y"
		}
		d.PublishSample(sampler.Sample{Characteristic: id, Value: i, Seq: uint64(i)})
	}
	d.PublishSessionEnded()
	d.Close()

	samples := consumer.Samples()
	require.Len(t, samples, 10)
	for i, s := range samples {
		assert.Equal(t, uint64(i+1), s.Seq, "samples MUST be delivered in publish order")
	}
	events := consumer.Events()
	assert.Equal(t, "ended", events[len(events)-1])

	m := d.Metrics()
	assert.Equal(t, int64(11), m.Published)
	assert.Equal(t, int64(11), m.Delivered)
	assert.Zero(t, m.Overwritten)
}

func TestDispatcher_SlowConsumerOverwritesOldest(t *testing.T) {
	consumer := &recordingConsumer{gate: make(chan struct{})}
	d, err := session.NewDispatcher(consumer, 4, nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 1; i <= 100; i++ {
		d.PublishSample(sampler.Sample{Characteristic: "x", Value: i % 256, Seq: uint64(i)})
	}
	assert.Less(t, time.Since(start), time.Second, "publishing MUST NOT block on a stalled consumer")

	close(consumer.gate)
	d.Close()

	m := d.Metrics()
	assert.Equal(t, int64(100), m.Published)
	assert.Greater(t, m.Overwritten, int64(0), "a stalled consumer MUST cause overwrites")
	assert.Less(t, len(consumer.Samples()), 100)

	samples := consumer.Samples()
	assert.Equal(t, uint64(100), samples[len(samples)-1].Seq, "newest sample MUST survive")
}

func TestDispatcher_SessionEndsSurviveOverwrites(t *testing.T) {
	// GOAL: Verify a lagging consumer still sees every session end between the right samples
	//
	// TEST SCENARIO: Stalled consumer, three sessions (x, y, z) far larger than the ring → two ends delivered, in order

	consumer := &recordingConsumer{gate: make(chan struct{})}
	d, err := session.NewDispatcher(consumer, 4, nil)
	require.NoError(t, err)

	seq := uint64(0)
	publish := func(id sampler.CharacteristicID, n int) {
		for i := 0; i < n; i++ {
			seq++
			d.PublishSample(sampler.Sample{Characteristic: id, Value: int(seq % 256), Seq: seq})
		}
	}
	publish("x", 3)
	d.PublishSessionEnded()
	publish("y", 40)
	d.PublishSessionEnded()
	publish("z", 20)

	close(consumer.gate)
	d.Close()

	sessions := []string{"x", "y", "z"}
	current := 0
	for _, ev := range consumer.Events() {
		if ev == "ended" {
			current++
			continue
		}
		require.Less(t, current, len(sessions))
		assert.Equal(t, sessions[current], ev, "samples MUST NOT cross a session end")
	}
	assert.Equal(t, 2, current, "every session end MUST be delivered exactly once")

	m := d.Metrics()
	assert.Equal(t, int64(2), m.Restored, "overwritten session ends MUST be re-issued")
	assert.Greater(t, m.Overwritten, int64(0))
}

func TestDispatcher_TrailingSessionEndDelivered(t *testing.T) {
	consumer := &recordingConsumer{}
	d, err := session.NewDispatcher(consumer, 8, nil)
	require.NoError(t, err)

	d.PublishSample(sampler.Sample{Characteristic: "x", Seq: 1})
	d.PublishSessionEnded()
	d.PublishSessionEnded()
	d.Close()

	assert.Equal(t, []string{"x", "ended", "ended"}, consumer.Events())
	assert.Zero(t, d.Metrics().Restored, "ends still in the ring MUST NOT be duplicated")
}

func TestDispatcher_RecoversFromConsumerPanic(t *testing.T) {
	delivered := make(chan sampler.Sample, 2)
	consumer := session.ConsumerFuncs{
		OnSample: func(s sampler.Sample) {
			if s.Value == 13 {
				panic("unlucky")
			}
			delivered <- s
		},
	}
	d, err := session.NewDispatcher(consumer, 8, nil)
	require.NoError(t, err)

	d.PublishSample(sampler.Sample{Value: 13})
	d.PublishSample(sampler.Sample{Value: 14})
	d.Close()

	require.Len(t, delivered, 1)
	assert.Equal(t, 14, (<-delivered).Value)
	assert.Equal(t, int64(1), d.Metrics().Errors)
}

func TestTee(t *testing.T) {
	a := &recordingConsumer{}
	b := &recordingConsumer{}
	c := session.Tee(a, nil, b)

	c.Accept(sampler.Sample{Characteristic: "y", Value: 1})
	c.SessionEnded()

	assert.Equal(t, []string{"y", "ended"}, a.Events())
	assert.Equal(t, []string{"y", "ended"}, b.Events())
}
