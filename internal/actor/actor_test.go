package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/evalworker/internal/actor"
	"github.com/bhandras/evalworker/internal/actor/actortest"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	actor.InputBase
	n int
}

type testEffect struct {
	actor.EffectBase
	n int
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	ev, ok := input.(testEvent)
	if !ok {
		return state, nil
	}
	return state + ev.n, []actor.Effect{testEffect{n: ev.n}}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for actor loop to exit")
	}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, a.Enqueue(ctx, testEvent{n: i}))
	}

	require.Eventually(t, func() bool { return a.State() == 15 }, 2*time.Second, 5*time.Millisecond)

	effects := rt.Effects()
	require.Len(t, effects, 5)
	for i, eff := range effects {
		require.Equal(t, i+1, eff.(testEffect).n)
	}
}

func TestActorBuffersInputsBeforeStart(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)

	ctx := context.Background()
	require.NoError(t, a.Enqueue(ctx, testEvent{n: 2}))
	require.NoError(t, a.Enqueue(ctx, testEvent{n: 3}))
	require.Zero(t, a.State())
	require.Empty(t, rt.Effects())

	a.Start()
	a.Close()
	waitDone(t, a.Done())
	require.Equal(t, 5, a.State())
}

func TestActorCloseDrainsAcceptedInputs(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{
		EmitFn: func(context.Context, actor.Effect, func(actor.Input)) {
			time.Sleep(time.Millisecond)
		},
	}
	a := actor.New[int](0, sumReducer, rt, actor.WithMailboxSize[int](4))
	a.Start()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, a.Enqueue(ctx, testEvent{n: 1}))
	}
	a.Close()
	a.Close()

	require.ErrorIs(t, a.Enqueue(ctx, testEvent{n: 1}), actor.ErrStopped)
	waitDone(t, a.Done())
	require.Equal(t, 20, a.State())
	require.Len(t, rt.Effects(), 20)
}

func TestActorEnqueueWaitsWhenFull(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, sumReducer, nil, actor.WithMailboxSize[int](1))
	defer a.Stop()

	require.NoError(t, a.Enqueue(context.Background(), testEvent{n: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, a.Enqueue(ctx, testEvent{n: 1}), context.DeadlineExceeded)
}

func TestActorStopUnblocksSenders(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt, actor.WithMailboxSize[int](1))
	require.NoError(t, a.Enqueue(context.Background(), testEvent{n: 1}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Enqueue(context.Background(), testEvent{n: 1})
	}()

	time.Sleep(10 * time.Millisecond)
	a.Stop()
	a.Stop()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, actor.ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sender was not released")
	}
	require.Equal(t, 2, rt.Stopped())
}

func TestActorHooks(t *testing.T) {
	t.Parallel()

	var transitions [][2]int
	recovered := make(chan any, 1)
	reducer := func(state int, input actor.Input) (int, []actor.Effect) {
		ev := input.(testEvent)
		if ev.n < 0 {
			panic("negative")
		}
		return state + ev.n, nil
	}
	a := actor.New[int](0, reducer, nil, actor.WithHooks(actor.Hooks[int]{
		OnTransition: func(prev, next int, _ actor.Input) {
			transitions = append(transitions, [2]int{prev, next})
		},
		OnPanic: func(r any) { recovered <- r },
	}))
	a.Start()
	defer a.Stop()

	ctx := context.Background()
	require.NoError(t, a.Enqueue(ctx, testEvent{n: 4}))
	require.NoError(t, a.Enqueue(ctx, testEvent{n: -1}))

	select {
	case r := <-recovered:
		require.Equal(t, "negative", r)
	case <-time.After(2 * time.Second):
		t.Fatal("panic hook not called")
	}
	waitDone(t, a.Done())
	require.Equal(t, [][2]int{{0, 4}}, transitions)
}

func TestStep(t *testing.T) {
	t.Parallel()

	next, effects := actor.Step(10, testEvent{n: 5}, sumReducer)
	require.Equal(t, 15, next)
	require.Equal(t, []actor.Effect{testEffect{n: 5}}, effects)
}
