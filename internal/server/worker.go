package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bhandras/evalworker/internal/logger"
	"github.com/bhandras/evalworker/internal/session"
	"github.com/bhandras/evalworker/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultMaxFrameSize = 64 << 10
	writeTimeout        = 10 * time.Second
)

// handleWorker opens a session, upgrades the connection and pumps frames
// until either side goes away.
func (s *Server) handleWorker(c *gin.Context) {
	sess, err := s.opts.Sessions.Open(c.Request.Context())
	if err != nil {
		logger.Errorf("[server] open session: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session initialization failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[server] websocket upgrade error: %v", err)
		s.stopSession(sess)
		return
	}
	defer conn.Close()

	logger.Infof("[server] worker connected: session=%s subject=%s", sess.ID(), Subject(c))

	var g errgroup.Group
	g.Go(func() error {
		defer s.stopSession(sess)
		return s.readLoop(conn, sess)
	})
	g.Go(func() error {
		return writeLoop(conn, sess)
	})
	if err := g.Wait(); err != nil {
		logger.Warnf("[server] session %s: %v", sess.ID(), err)
	}

	logger.Infof("[server] worker disconnected: session=%s", sess.ID())
}

// readLoop posts every inbound frame to the session. It returns when the
// peer goes away or the session stops accepting.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		burst := s.opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)
	}

	for {
		req, err := readFrame(conn, s.opts.MaxFrameSize)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("[server] session %s read: %v", sess.ID(), err)
			}
			return nil
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := sess.Post(ctx, req); err != nil {
			if errors.Is(err, session.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// readFrame reads the next data frame. A frame over limit bytes is read to
// its end and dropped, and comes back as a wire.TooLarge request so the peer
// still gets an answer for it.
func readFrame(conn *websocket.Conn, limit int) (wire.Request, error) {
	for {
		msgType, r, err := conn.NextReader()
		if err != nil {
			return wire.Request{}, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
		if err != nil {
			return wire.Request{}, err
		}
		if len(data) <= limit {
			return wire.ParseFrame(data), nil
		}

		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return wire.Request{}, err
		}
		logger.Warnf("[server] dropped %d byte frame (limit %d)", int64(len(data))+n, limit)
		return wire.TooLarge(limit), nil
	}
}

// writeLoop forwards responses until the session closes its outbox. After a
// write error it keeps draining so the session can finish stopping.
func writeLoop(conn *websocket.Conn, sess *session.Session) error {
	var writeErr error
	for resp := range sess.Responses() {
		if writeErr != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		writeErr = conn.WriteJSON(resp)
	}

	if writeErr == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
			time.Now().Add(time.Second))
	}
	// Unblocks readLoop when the session stopped first.
	_ = conn.Close()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return writeErr
	}
	return nil
}

func (s *Server) stopSession(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()
	if err := sess.Stop(ctx); err != nil {
		logger.Warnf("[server] session %s stop: %v", sess.ID(), err)
	}
}
