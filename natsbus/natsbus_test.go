package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/testutil"
)

func newBus(t *testing.T) (*Bus, *Client) {
	t.Helper()

	bus, err := New()
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return bus, client
}

func TestBusStartStop(t *testing.T) {
	bus, err := New()
	require.NoError(t, err)
	defer bus.Close()

	assert.NotEmpty(t, bus.ClientURL())
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "conclave.agent.a1.respond", SubjectRespond("a1"))
	assert.Equal(t, "conclave.coordinate", SubjectCoordinate)
}

func TestResponder_RoundTrip(t *testing.T) {
	_, client := newBus(t)

	fake := testutil.NewFakeResponder("pong")
	_, err := ServeResponder(client, SubjectRespond("a"), fake)
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	r := NewResponder(client, SubjectRespond("a"))
	out, err := r.Respond(context.Background(), "ping")
	require.NoError(t, err)

	assert.Equal(t, "pong", out)
	assert.Equal(t, "ping", fake.LastPrompt())
	assert.Equal(t, SubjectRespond("a"), r.Subject())
}

func TestResponder_RemoteFailureKeepsKind(t *testing.T) {
	_, client := newBus(t)

	_, err := ServeResponder(client, "rl", testutil.NewFakeResponder("").Fail(fmt.Errorf("upstream: %w", core.ErrRateLimited)))
	require.NoError(t, err)
	_, err = ServeResponder(client, "boom", testutil.NewFakeResponder("").Fail(nil))
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	_, err = NewResponder(client, "rl").Respond(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.Equal(t, core.KindRateLimited, core.Classify(err))

	_, err = NewResponder(client, "boom").Respond(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), testutil.ErrFake.Error())
	assert.Equal(t, core.KindAgentFailure, core.Classify(err))
}

func TestResponder_Timeout(t *testing.T) {
	_, client := newBus(t)

	_, err := ServeResponder(client, "slow", testutil.NewFakeResponder("").Block(), func(o *ServeOptions) {
		o.Timeout = 500 * time.Millisecond
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = NewResponder(client, "slow").Respond(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestResponder_DefaultTimeoutWithoutDeadline(t *testing.T) {
	_, client := newBus(t)

	_, err := ServeResponder(client, "slow", testutil.NewFakeResponder("").Block(), func(o *ServeOptions) {
		o.Timeout = 500 * time.Millisecond
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	r := NewResponder(client, "slow", func(o *ResponderOptions) { o.Timeout = 50 * time.Millisecond })

	start := time.Now()
	_, err = r.Respond(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestResponder_CallerDeadlineReachesServer(t *testing.T) {
	_, client := newBus(t)

	released := make(chan time.Time, 1)
	var served bool
	var deadline time.Time
	blocking := core.ResponderFunc(func(ctx context.Context, _ string) (string, error) {
		deadline, served = ctx.Deadline()
		<-ctx.Done()
		released <- time.Now()
		return "", ctx.Err()
	})

	// The serving side itself is unbounded.
	_, err := ServeResponder(client, "slow", blocking)
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	want, _ := ctx.Deadline()

	_, err = NewResponder(client, "slow").Respond(ctx, "x")
	assert.ErrorIs(t, err, core.ErrTimeout)

	select {
	case at := <-released:
		require.True(t, served)
		assert.WithinDuration(t, want, deadline, time.Millisecond)
		assert.WithinDuration(t, want, at, time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("remote call kept running after the caller gave up")
	}
}

func TestWithDeadlineMS(t *testing.T) {
	ctx, cancel := withDeadlineMS(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	at := time.Now().Add(time.Minute)
	ctx, cancel = withDeadlineMS(context.Background(), at.UnixMilli())
	defer cancel()
	d, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, at.UnixMilli(), d.UnixMilli())
	assert.Equal(t, at.UnixMilli(), deadlineMS(ctx))
}

func TestResponder_NoServer(t *testing.T) {
	_, client := newBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewResponder(client, "nobody.home").Respond(ctx, "x")
	assert.Error(t, err)
}

func TestServeFunc_RecoversPanics(t *testing.T) {
	_, client := newBus(t)

	_, err := ServeFunc(client, "panic", func(context.Context, []byte) ([]byte, error) {
		panic("kaboom")
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	_, err = NewResponder(client, "panic").Respond(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestDispatchOverNATS(t *testing.T) {
	_, client := newBus(t)

	answers := []string{"A", "B", "C"}
	handles := make([]*agent.Handle, len(answers))
	for i, a := range answers {
		id := fmt.Sprintf("remote-%d", i)
		_, err := ServeResponder(client, SubjectRespond(id), testutil.NewFakeResponder(a).Latency(time.Duration(len(answers)-i)*20*time.Millisecond))
		require.NoError(t, err)
		handles[i] = agent.NewHandle(id, NewResponder(client, SubjectRespond(id)))
	}
	require.NoError(t, client.Flush())

	res := agent.NewDispatcher().Dispatch(context.Background(), "q", handles, time.Second)

	require.Len(t, res, 3)
	for i, a := range answers {
		assert.True(t, res[i].OK())
		assert.Equal(t, a, res[i].Content)
	}
}

func TestCoordinate(t *testing.T) {
	_, client := newBus(t)

	seen := make(chan CoordinateRequest, 2)
	_, err := ServeFunc(client, SubjectCoordinate, func(_ context.Context, data []byte) ([]byte, error) {
		var req CoordinateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		seen <- req
		if req.Task == "fail" {
			return nil, errors.New("no agents")
		}
		return []byte(`{"strategy":"debate","error":"unresolved","decision":null}`), nil
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := Coordinate(ctx, client, CoordinateRequest{Task: "q", Strategy: "debate", TimeoutMS: 250})
	require.NoError(t, err)
	assert.JSONEq(t, `{"strategy":"debate","error":"unresolved","decision":null}`, string(payload))
	assert.Equal(t, CoordinateRequest{Task: "q", Strategy: "debate", TimeoutMS: 250}, <-seen)

	_, err = Coordinate(ctx, client, CoordinateRequest{Task: "fail"})
	assert.ErrorIs(t, err, ErrRemote)
}
