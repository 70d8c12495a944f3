package orderbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"mbobook/internal/infrastructure/feed"

	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyStreaming = errors.New("stream already running")
	ErrNoFeedPath       = errors.New("feed path is required")
	ErrInvalidSpeed     = errors.New("speed must not be negative")
)

// StartRequest selects the feed file and replay speed. Speed 1 replays in
// real time, 2 twice as fast, 0 as fast as possible.
type StartRequest struct {
	Path  string  `json:"path"`
	Speed float64 `json:"speed"`
}

type StreamStatus struct {
	Running    bool       `json:"running"`
	Path       string     `json:"path,omitempty"`
	Speed      float64    `json:"speed"`
	Messages   uint64     `json:"messages"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Streamer replays a recorded feed file into an Engine, pacing events by
// their ts_in_delta. At most one replay runs at a time.
type Streamer struct {
	engine      *Engine
	defaultPath string
	logger      *logrus.Entry
	sleep       func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
	status   StreamStatus
	messages atomic.Uint64
}

func NewStreamer(engine *Engine, defaultPath string, logger *logrus.Logger) *Streamer {
	return &Streamer{
		engine:      engine,
		defaultPath: defaultPath,
		logger:      logger.WithField("component", "streamer"),
		sleep:       sleepContext,
	}
}

// Start opens the feed and begins the replay in the background. The replay
// is not bound to ctx cancellation; use Stop to end it early.
func (s *Streamer) Start(ctx context.Context, req StartRequest) error {
	if req.Path == "" {
		req.Path = s.defaultPath
	}
	if req.Path == "" {
		return ErrNoFeedPath
	}
	if req.Speed < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, req.Speed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		return ErrAlreadyStreaming
	}

	reader, err := feed.Open(req.Path)
	if err != nil {
		return err
	}

	s.engine.ResetCounters()
	s.messages.Store(0)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now().UTC()
	s.cancel = cancel
	s.finished = make(chan struct{})
	s.status = StreamStatus{
		Running:   true,
		Path:      req.Path,
		Speed:     req.Speed,
		StartedAt: &now,
	}

	s.logger.WithFields(logrus.Fields{
		"path":  req.Path,
		"speed": req.Speed,
	}).Info("start streaming feed")

	go s.run(runCtx, reader, req.Speed, s.finished)
	return nil
}

// Stop ends a running replay and waits for it to exit. It is a no-op when idle.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.status.Running {
		s.mu.Unlock()
		return nil
	}
	cancel, finished := s.cancel, s.finished
	s.mu.Unlock()

	cancel()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Streamer) Status() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Messages = s.messages.Load()
	return st
}

func (s *Streamer) run(ctx context.Context, reader *feed.Reader, speed float64, finished chan struct{}) {
	defer close(finished)
	defer reader.Close()

	err := s.replay(ctx, reader, speed)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.mu.Lock()
	now := time.Now().UTC()
	s.status.Running = false
	s.status.FinishedAt = &now
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.cancel()
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{
		"messages": s.messages.Load(),
		"lines":    reader.Line(),
	})
	if err != nil {
		entry.WithError(err).Warn("streaming stopped with error")
		return
	}
	entry.Info("finished streaming feed")
}

func (s *Streamer) replay(ctx context.Context, reader *feed.Reader, speed float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if ev.TsInDelta > 0 && speed > 0 {
			pause := time.Duration(float64(ev.TsInDelta) / speed)
			if err := s.sleep(ctx, pause); err != nil {
				return err
			}
		}

		if err := s.engine.Submit(ctx, ev); err != nil {
			return err
		}
		s.messages.Add(1)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
