package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"mbobook/internal/domain/orderbook"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultLevels   = 10
	maxLevels       = 1000
	defaultInterval = 250 * time.Millisecond
	minInterval     = 10 * time.Millisecond

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = 54 * time.Second
)

// DepthSource is the read side of the engine used by the stream.
type DepthSource interface {
	Depth(ctx context.Context, levels int) (orderbook.DepthSnapshot, error)
}

// DepthFrame is one push to a subscriber.
type DepthFrame struct {
	Type      string                  `json:"type"`
	Sequence  uint64                  `json:"sequence"`
	Timestamp int64                   `json:"timestamp"`
	Book      orderbook.DepthSnapshot `json:"book"`
}

// DepthStream pushes top-of-book depth to websocket clients at a fixed
// interval chosen by each client (?levels=N&interval=250ms).
type DepthStream struct {
	source   DepthSource
	upgrader websocket.Upgrader
	logger   *logrus.Entry
	clients  atomic.Int64
}

func NewDepthStream(source DepthSource, logger *logrus.Logger) *DepthStream {
	return &DepthStream{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.WithField("component", "ws_depth"),
	}
}

// Clients is the number of connected subscribers.
func (s *DepthStream) Clients() int64 { return s.clients.Load() }

func (s *DepthStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	levels, interval, err := parseParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("upgrade failed")
		return
	}
	s.clients.Add(1)
	defer s.clients.Add(-1)
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readLoop(conn, cancel)

	s.logger.WithFields(logrus.Fields{
		"remote":   r.RemoteAddr,
		"levels":   levels,
		"interval": interval.String(),
	}).Info("depth subscriber connected")

	if err := s.writeLoop(ctx, conn, levels, interval); err != nil {
		s.logger.WithError(err).Debug("depth subscriber dropped")
	}
}

// readLoop discards client frames and keeps the read deadline fresh on pong.
func (s *DepthStream) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *DepthStream) writeLoop(ctx context.Context, conn *websocket.Conn, levels int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var seq uint64
	push := func(kind string) error {
		book, err := s.source.Depth(ctx, levels)
		if err != nil {
			return err
		}
		seq++
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(DepthFrame{
			Type:      kind,
			Sequence:  seq,
			Timestamp: time.Now().UnixNano(),
			Book:      book,
		})
	}

	if err := push("snapshot"); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return nil
		case <-ticker.C:
			if err := push("depth"); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		}
	}
}

func parseParams(r *http.Request) (int, time.Duration, error) {
	levels := defaultLevels
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLevels {
			return 0, 0, errInvalidLevels
		}
		levels = n
	}
	interval := defaultInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < minInterval {
			return 0, 0, errInvalidInterval
		}
		interval = d
	}
	return levels, interval, nil
}
