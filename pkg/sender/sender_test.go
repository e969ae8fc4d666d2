package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/echo"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/event"
)

type fixture struct {
	actuator   *engine.Actuator
	correlator *echo.Correlator
	bus        *event.Bus
	metrics    *api.BasicMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics := &api.BasicMetrics{}
	a, err := engine.New(engine.Config{Workers: 2, Observer: metrics})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)

	bus := event.NewBus(event.Config{})
	c := echo.NewCorrelator(nil)
	c.Attach(bus, 0)
	return &fixture{actuator: a, correlator: c, bus: bus, metrics: metrics}
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.actuator.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type pong struct {
	Seq int `json:"seq"`
}

func TestSend_ImmediateReplySucceedsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	transport := &FakeTransport{Bus: f.bus, Count: 0}
	s := New(f.actuator, f.correlator, transport, Config{ResponseTimeout: 20 * time.Millisecond, MaxRetries: 3})

	pending, err := s.Send(context.Background(), Outbound{Action: "ping", Echo: "p1"}, echo.Void)
	require.NoError(t, err)

	res, err := pending.Join()
	require.NoError(t, err)
	require.True(t, res.Success)

	f.waitIdle(t)
	require.Equal(t, 1, transport.Transmissions("p1"))
	require.Equal(t, int64(0), f.metrics.Snapshot().Retries)
	require.False(t, f.correlator.Has("p1"))
}

func TestSend_AnsweredRequestsAreNotFailedByStop(t *testing.T) {
	f := newFixture(t)
	transport := &FakeTransport{Bus: f.bus, Count: 0}
	s := New(f.actuator, f.correlator, transport, Config{ResponseTimeout: 5 * time.Second, MaxRetries: 3})

	for _, token := range []string{"s1", "s2", "s3"} {
		pending, err := s.Send(context.Background(), Outbound{Action: "ping", Echo: token}, echo.Void)
		require.NoError(t, err)
		res, err := pending.Join()
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	require.Zero(t, f.actuator.Pending(), "answered requests must retire their watchdogs")
	f.actuator.Stop()

	snap := f.metrics.Snapshot()
	require.Equal(t, int64(3), snap.Succeeded)
	require.Zero(t, snap.Failed)
}

func TestSend_RetransmitsUntilReply(t *testing.T) {
	f := newFixture(t)
	transport := &FakeTransport{Bus: f.bus, Count: 2}
	s := New(f.actuator, f.correlator, transport, Config{ResponseTimeout: 10 * time.Millisecond, MaxRetries: 3})

	pending, err := s.Send(context.Background(), Outbound{Action: "ping", Echo: "p2"}, nil)
	require.NoError(t, err)

	res, err := pending.Join()
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, transport.Transmissions("p2"))
	f.waitIdle(t)
}

func TestSend_ExhaustionFailsResultAndUnregisters(t *testing.T) {
	f := newFixture(t)
	transport := &FakeTransport{Bus: f.bus, Count: 100}
	s := New(f.actuator, f.correlator, transport, Config{ResponseTimeout: 5 * time.Millisecond})

	pending, err := s.Send(context.Background(), Outbound{Action: "ping", Echo: "p3"}, nil, WithMaxRetries(2))
	require.NoError(t, err)

	res, err := pending.Join()
	require.NoError(t, err)
	require.False(t, res.Success)
	require.False(t, f.correlator.Has("p3"))
	require.Equal(t, 3, transport.Transmissions("p3"))
	f.waitIdle(t)

	// A late reply for the expired echo is dropped.
	f.bus.Push(context.Background(), &echo.ResponseEvent{Success: true, Echo: "p3"})
	require.Equal(t, int64(1), f.correlator.Dropped())
}

func TestSend_TypedReply(t *testing.T) {
	f := newFixture(t)
	transport := &FakeTransport{
		Bus: f.bus,
		Reply: func(msg Outbound) (bool, []byte) {
			return true, []byte(`{"seq":7}`)
		},
	}
	s := New(f.actuator, f.correlator, transport, Config{ResponseTimeout: 20 * time.Millisecond})

	pending, err := Send[pong](context.Background(), s, Outbound{Action: "ping"})
	require.NoError(t, err)

	res, err := pending.Join()
	require.NoError(t, err)
	require.Equal(t, api.TaskResult[pong]{Success: true, Value: pong{Seq: 7}}, res)
	f.waitIdle(t)
}

func TestSend_DuplicateEcho(t *testing.T) {
	f := newFixture(t)
	_, err := f.correlator.Register("dup", nil, nil)
	require.NoError(t, err)

	s := New(f.actuator, f.correlator, &FakeTransport{Bus: f.bus}, Config{})
	_, err = s.Send(context.Background(), Outbound{Action: "ping", Echo: "dup"}, nil)
	require.ErrorIs(t, err, echo.ErrDuplicateEcho)
}

type brokenTransport struct{}

var errLinkDown = errors.New("link down")

func (brokenTransport) Transmit(ctx context.Context, msg Outbound) error { return errLinkDown }

func TestSend_TransmitErrorUnregisters(t *testing.T) {
	f := newFixture(t)
	s := New(f.actuator, f.correlator, brokenTransport{}, Config{})

	_, err := s.Send(context.Background(), Outbound{Action: "ping", Echo: "down"}, nil)
	require.ErrorIs(t, err, errLinkDown)
	require.False(t, f.correlator.Has("down"))
	require.Equal(t, 0, f.actuator.Pending())
}
