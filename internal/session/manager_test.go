package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoaders_StopAtFirstFailure(t *testing.T) {
	t.Parallel()

	var calls []string
	boom := errors.New("boom")
	chain := Loaders{
		LoaderFunc(func(context.Context) error { calls = append(calls, "a"); return nil }),
		nil,
		LoaderFunc(func(context.Context) error { calls = append(calls, "b"); return boom }),
		LoaderFunc(func(context.Context) error { calls = append(calls, "c"); return nil }),
	}

	require.ErrorIs(t, chain.Load(context.Background()), boom)
	require.Equal(t, []string{"a", "b"}, calls)
	require.NoError(t, Loaders{}.Load(context.Background()))
}

func TestManager_OpenTracksSessions(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{ID: "ignored"})
	ctx := context.Background()

	a, err := m.Open(ctx)
	require.NoError(t, err)
	b, err := m.Open(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())
	require.NotEqual(t, "ignored", a.ID())
	require.Len(t, m.IDs(), 2)

	got, ok := m.Get(a.ID())
	require.True(t, ok)
	require.Same(t, a, got)

	// Sessions are independent: each has its own evaluator.
	require.NoError(t, a.Post(ctx, req("2")))
	require.Equal(t, []bool{true}, results(t, collect(t, a, 1)))
	stA, _ := a.EvaluatorState()
	stB, _ := b.EvaluatorState()
	require.Equal(t, uint64(1), stA.Evaluations)
	require.Equal(t, uint64(0), stB.Evaluations)

	require.NoError(t, a.Stop(ctx))
	require.Eventually(t, func() bool {
		_, ok := m.Get(a.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{b.ID()}, m.IDs())

	require.NoError(t, m.StopAll(ctx))
	require.Eventually(t, func() bool { return len(m.IDs()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_OpenFailureIsNotRegistered(t *testing.T) {
	t.Parallel()

	loadErr := errors.New("no module")
	m := NewManager(Config{Loader: LoaderFunc(func(context.Context) error { return loadErr })})

	s, err := m.Open(context.Background())
	require.Nil(t, s)
	require.ErrorIs(t, err, ErrInitialization)
	require.ErrorIs(t, err, loadErr)
	require.Empty(t, m.IDs())
}

func TestManager_ConcurrentSessions(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{MailboxSize: 2})
	ctx := context.Background()

	const sessions, each = 6, 40
	var wg sync.WaitGroup
	wg.Add(sessions)
	for i := 0; i < sessions; i++ {
		go func() {
			defer wg.Done()
			s, err := m.Open(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			go func() {
				for j := 0; j < each; j++ {
					if err := s.Post(ctx, req(strconv.Itoa(j))); err != nil {
						t.Error(err)
						return
					}
				}
			}()
			for j := 0; j < each; j++ {
				select {
				case resp := <-s.Responses():
					if resp.Seq != uint64(j+1) || resp.Result == nil || *resp.Result != (j%2 == 0) {
						t.Errorf("session %s: unexpected response %+v at %d", s.ID(), resp, j)
						return
					}
				case <-time.After(2 * time.Second):
					t.Errorf("session %s: timed out at %d", s.ID(), j)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, m.IDs(), sessions)
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(stopCtx))
}
