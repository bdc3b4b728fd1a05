package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bhandras/evalworker/internal/session"
	"github.com/bhandras/evalworker/internal/wire"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out string) []wire.Response {
	t.Helper()
	var resps []wire.Response
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r wire.Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		resps = append(resps, r)
	}
	return resps
}

func TestServe_OneResponsePerLine(t *testing.T) {
	t.Parallel()

	sess := session.New(session.Config{MailboxSize: 2})
	require.NoError(t, sess.Start(context.Background()))

	in := strings.NewReader("2\n3\n\n{\"id\":\"x\",\"payload\":4}\n  \nnope\n9")
	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), sess, in, &out))

	resps := decodeLines(t, out.String())
	require.Len(t, resps, 5)
	for i, r := range resps {
		require.Equal(t, uint64(i+1), r.Seq)
	}
	require.True(t, *resps[0].Result)
	require.False(t, *resps[1].Result)
	require.Equal(t, "x", resps[2].ID)
	require.True(t, *resps[2].Result)
	require.Equal(t, wire.CodeInvalidRequest, resps[3].Error.Code)
	require.False(t, *resps[4].Result)

	select {
	case <-sess.Done():
	default:
		t.Fatal("session still running after Serve returned")
	}
}

func TestServe_InitializationFailure(t *testing.T) {
	t.Parallel()

	loadErr := errors.New("no module")
	sess := session.New(session.Config{
		Loader: session.LoaderFunc(func(context.Context) error { return loadErr }),
	})
	require.Error(t, sess.Start(context.Background()))

	var out bytes.Buffer
	err := Serve(context.Background(), sess, strings.NewReader("1\n2\n"), &out)
	require.ErrorIs(t, err, session.ErrInitialization)
	require.ErrorIs(t, err, loadErr)
	require.Empty(t, out.String())
}

func TestServe_ContextCancelReturns(t *testing.T) {
	t.Parallel()

	sess := session.New(session.Config{})
	require.NoError(t, sess.Start(context.Background()))

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, sess, pr, &out) }()

	_, err := pw.Write([]byte("6\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.State().Received == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestServe_WriteErrorIsReported(t *testing.T) {
	t.Parallel()

	sess := session.New(session.Config{MailboxSize: 1})
	require.NoError(t, sess.Start(context.Background()))

	err := Serve(context.Background(), sess, strings.NewReader("1\n2\n3\n4\n"), failingWriter{})
	require.ErrorContains(t, err, "broken pipe")
}

func TestServe_OversizedLineIsAnsweredAndSkipped(t *testing.T) {
	t.Parallel()

	sess := session.New(session.Config{})
	require.NoError(t, sess.Start(context.Background()))

	const limit = 128
	in := "2\n" + strings.Repeat("7", 4*limit) + "\n4\n" + strings.Repeat(" ", limit) + "x\n"
	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), sess, strings.NewReader(in), &out, limit))

	resps := decodeLines(t, out.String())
	require.Len(t, resps, 4)
	require.True(t, *resps[0].Result)

	require.NotNil(t, resps[1].Error)
	require.Equal(t, wire.CodeInvalidRequest, resps[1].Error.Code)
	require.Contains(t, resps[1].Error.Message, "exceeds 128 bytes")

	require.Equal(t, uint64(3), resps[2].Seq)
	require.True(t, *resps[2].Result)

	// Padding counts towards the limit too.
	require.Equal(t, wire.CodeInvalidRequest, resps[3].Error.Code)
}

func TestServe_OversizedFinalLine(t *testing.T) {
	t.Parallel()

	sess := session.New(session.Config{})
	require.NoError(t, sess.Start(context.Background()))

	in := "3\n" + strings.Repeat("1", 2*maxLineSize)
	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), sess, strings.NewReader(in), &out))

	resps := decodeLines(t, out.String())
	require.Len(t, resps, 2)
	require.False(t, *resps[0].Result)
	require.Equal(t, wire.CodeInvalidRequest, resps[1].Error.Code)
}
