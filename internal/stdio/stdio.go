// Package stdio hosts a session over a line-oriented stream: one JSON request
// per input line, one JSON response per output line.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bhandras/evalworker/internal/logger"
	"github.com/bhandras/evalworker/internal/session"
	"github.com/bhandras/evalworker/internal/wire"
	"golang.org/x/sync/errgroup"
)

const maxLineSize = 1 << 20

// Serve feeds lines from r to sess and writes its responses to w. Blank lines
// are skipped. A line longer than the limit is discarded and answered with an
// invalid request response; the stream carries on with the next line.
//
// Serve returns once r is exhausted and every accepted line has been
// answered. If ctx ends first, pending lines are discarded. The session must
// already be started or starting; Serve stops it before returning.
func Serve(ctx context.Context, sess *session.Session, r io.Reader, w io.Writer) error {
	return serve(ctx, sess, r, w, maxLineSize)
}

func serve(ctx context.Context, sess *session.Session, r io.Reader, w io.Writer, limit int) error {
	g, gctx := errgroup.WithContext(ctx)

	reqs := make(chan wire.Request)
	quit := make(chan struct{})
	scanErr := make(chan error, 1)
	go scan(r, limit, reqs, quit, scanErr)

	g.Go(func() error {
		defer close(quit)
		eof, err := pump(gctx, sess, reqs)

		if stopErr := sess.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
		if err != nil {
			return err
		}
		if eof {
			return <-scanErr
		}
		return nil
	})
	g.Go(func() error {
		return writeResponses(w, sess)
	})

	return g.Wait()
}

// pump posts requests until the input ends (eof is true), the session stops
// accepting, or ctx ends.
func pump(ctx context.Context, sess *session.Session, reqs <-chan wire.Request) (eof bool, err error) {
	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return true, nil
			}
			err := sess.Post(ctx, req)
			if errors.Is(err, session.ErrClosed) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// scan runs outside the errgroup: a read on a terminal cannot be
// interrupted, so it is left to finish on its own once quit is closed.
func scan(r io.Reader, limit int, reqs chan<- wire.Request, quit <-chan struct{}, errc chan<- error) {
	defer close(reqs)

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, tooLong, err := readLine(br, limit)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				err = fmt.Errorf("read input: %w", err)
			}
			errc <- err
			return
		}

		var req wire.Request
		switch {
		case tooLong:
			logger.Warnf("[stdio] discarded input line longer than %d bytes", limit)
			req = wire.TooLarge(limit)
		default:
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			req = wire.ParseFrame(line)
		}

		select {
		case reqs <- req:
		case <-quit:
			errc <- nil
			return
		}
	}
}

// readLine returns the next line without its terminator. Past limit bytes the
// rest of the line is read and dropped, and tooLong is set. A final line
// without a newline is still returned; io.EOF comes on the following call.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 || tooLong {
				return line, tooLong, nil
			}
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !more {
			return line, tooLong, nil
		}
	}
}

// writeResponses keeps draining after a write error so the session can
// finish stopping.
func writeResponses(w io.Writer, sess *session.Session) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	var writeErr error
	for resp := range sess.Responses() {
		if writeErr != nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			writeErr = err
			continue
		}
		// Flush per response so a host sees each answer immediately.
		if err := bw.Flush(); err != nil {
			writeErr = err
		}
	}
	if writeErr != nil {
		logger.Errorf("[stdio] write output: %v", writeErr)
		return fmt.Errorf("write output: %w", writeErr)
	}
	return nil
}
