// SPDX-License-Identifier: MIT

// Package session owns one stream connection end-to-end: the SSE framing,
// the heartbeat, and the teardown of everything the connection registered.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenhq/beacon/internal/admission"
	"github.com/lumenhq/beacon/internal/bus"
	"github.com/lumenhq/beacon/internal/event"
	"github.com/lumenhq/beacon/internal/metrics"
)

// DefaultHeartbeatInterval keeps intermediaries from reaping idle streams.
const DefaultHeartbeatInterval = 30 * time.Second

// State tracks where a session is in its lifecycle.
type State int32

const (
	StatePending State = iota
	StateAdmitted
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Releaser hands a ticket back to the admission controller.
type Releaser interface {
	Release(*admission.Ticket)
}

// Config wires a session to its collaborators.
type Config struct {
	Ticket       *admission.Ticket
	Subscription *bus.Subscription
	Writer       io.Writer
	Flush        func() // called after every frame; may be nil
	Heartbeat    time.Duration
	Releaser     Releaser
	Logger       zerolog.Logger
}

// Session is one admitted stream connection. It is the sole writer to its
// transport.
type Session struct {
	ticket    *admission.Ticket
	sub       *bus.Subscription
	w         io.Writer
	flush     func()
	heartbeat time.Duration
	releaser  Releaser
	log       zerolog.Logger

	mu    sync.Mutex
	state State
	once  sync.Once
}

// New constructs an admitted session. The caller must have passed admission
// and subscribed to the hub already; the session takes ownership of both the
// ticket and the subscription from here on.
func New(cfg Config) *Session {
	hb := cfg.Heartbeat
	if hb <= 0 {
		hb = DefaultHeartbeatInterval
	}
	flush := cfg.Flush
	if flush == nil {
		flush = func() {}
	}
	return &Session{
		ticket:    cfg.Ticket,
		sub:       cfg.Subscription,
		w:         cfg.Writer,
		flush:     flush,
		heartbeat: hb,
		releaser:  cfg.Releaser,
		log:       cfg.Logger,
		state:     StateAdmitted,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run streams until the transport disconnects, the subscription is closed
// from the hub side, or ctx is cancelled. It always tears the session down
// before returning.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	if err := s.writeConnected(); err != nil {
		s.log.Debug().Err(err).Msg("failed to write connected frame")
		return
	}
	s.setState(StateStreaming)
	s.log.Info().
		Str("user_id", s.ticket.UserID).
		Str("org_id", s.ticket.OrganizationID).
		Msg("stream session started")

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stream session disconnected")
			return
		case <-ticker.C:
			if err := s.writeHeartbeat(); err != nil {
				s.log.Debug().Err(err).Msg("heartbeat write failed, closing session")
				return
			}
		case ev, ok := <-s.sub.C():
			if !ok {
				// Hub closed us: backpressure drop or process shutdown.
				s.log.Info().Msg("subscription closed by hub")
				return
			}
			if err := s.writeEvent(ev); err != nil {
				s.log.Debug().Err(err).Str("event_type", ev.Type).
					Msg("event write failed, closing session")
				return
			}
		}
	}
}

// Close tears the session down: the subscription is deregistered and the
// admission ticket released. Idempotent; every exit path funnels through it.
func (s *Session) Close() {
	s.once.Do(func() {
		s.setState(StateClosed)
		s.sub.Close()
		if s.releaser != nil {
			s.releaser.Release(s.ticket)
		}
		s.log.Info().Msg("stream session closed")
	})
}

func (s *Session) writeConnected() error {
	payload, err := json.Marshal(map[string]any{
		"clientId":       s.ticket.ClientID,
		"timestamp":      time.Now().UTC(),
		"organizationId": s.ticket.OrganizationID,
	})
	if err != nil {
		return fmt.Errorf("marshal connected frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: connected\ndata: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeHeartbeat emits an SSE comment line, invisible to event parsers.
func (s *Session) writeHeartbeat() error {
	if _, err := fmt.Fprintf(s.w, ":heartbeat %d\n\n", time.Now().UnixMilli()); err != nil {
		return err
	}
	s.flush()
	metrics.HeartbeatsTotal.Inc()
	return nil
}

func (s *Session) writeEvent(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		// A bad payload loses this one frame, never the connection.
		s.log.Warn().Err(err).Str("event_type", ev.Type).Msg("dropping unmarshalable event")
		metrics.IncDrop("marshal")
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}
