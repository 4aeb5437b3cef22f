package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ListenPort and BindAddress are fixed; no configuration overrides them.
const (
	ListenPort  = 3000
	BindAddress = "0.0.0.0"
)

var (
	// ErrDatabaseConnection is returned when the initial database connection
	// attempt fails. It is never retried.
	ErrDatabaseConnection = errors.New("cannot connect to the database")

	// ErrConnectionTimeout is the ErrDatabaseConnection raised when the
	// configured connect timeout expires first.
	ErrConnectionTimeout = fmt.Errorf("%w: connection timed out", ErrDatabaseConnection)

	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("bootstrap sequence already started")
)

// Connector opens the database connection. It is satisfied by
// *clients.MongoClient.
type Connector interface {
	Connect(ctx context.Context) (*ConnectionHandle, error)
}

// Listener binds addr and serves h until ctx is cancelled. ready is called
// once the socket is bound, before any request is accepted.
type Listener interface {
	Serve(ctx context.Context, addr string, h http.Handler, ready func(net.Addr)) error
}

// ConfigureFunc registers middleware and the connection-independent routes.
type ConfigureFunc func(engine *gin.Engine, enableCORS bool)

// MountFunc registers the resource routes once the database is connected.
type MountFunc func(engine *gin.Engine, conn *ConnectionHandle)

// Steps are the collaborators the Sequencer drives, in order.
type Steps struct {
	Configure ConfigureFunc
	Connector Connector
	Mount     MountFunc
	Listener  Listener
}

// Options are the static settings of a startup run.
type Options struct {
	EnableCORS bool
	// ConnectTimeout bounds the initial connection attempt. Zero waits
	// indefinitely.
	ConnectTimeout  time.Duration
	ShutdownTimeout time.Duration
	// OnTransition, when set, is called after every state change.
	OnTransition func(State)
}

// Sequencer runs the ordered, fail-fast startup of the service:
// middleware, database, routes, listener. It owns the application engine
// and the connection handle for the lifetime of the process.
type Sequencer struct {
	engine *gin.Engine
	steps  Steps
	opts   Options

	state   atomic.Int32
	started atomic.Bool
	conn    *ConnectionHandle
}

// NewSequencer returns a Sequencer in StateStart.
func NewSequencer(engine *gin.Engine, steps Steps, opts Options) *Sequencer {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Sequencer{engine: engine, steps: steps, opts: opts}
}

// State returns the current startup state.
func (s *Sequencer) State() State {
	return State(s.state.Load())
}

// IsReady reports whether the listener is accepting traffic.
func (s *Sequencer) IsReady() bool {
	return s.State() == StateListening
}

// Addr is the fixed listen address.
func Addr() string {
	return net.JoinHostPort(BindAddress, strconv.Itoa(ListenPort))
}

// Run executes the startup sequence. On a database failure it returns an
// error wrapping ErrDatabaseConnection without ever binding the port. On
// success it blocks serving traffic until ctx is cancelled, moves to
// StateDraining while the listener shuts down, then closes the connection
// handle.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	startCtx, span := otel.Tracer("tutorials").Start(ctx, "tutorials.bootstrap")

	s.transition(StateConfiguringMiddleware)
	s.steps.Configure(s.engine, s.opts.EnableCORS)

	s.transition(StateConnectingDB)
	conn, err := s.connectDatabase(startCtx)
	if err != nil {
		s.transition(StateTerminated)
		slog.ErrorContext(startCtx, "Cannot connect to the database!", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "database connection failed")
		span.End()
		return err
	}
	s.conn = conn
	slog.InfoContext(startCtx, "Connected to the database!",
		"hosts", conn.Address.Hosts,
		"database", conn.Address.Database,
	)

	s.transition(StateMountingRoutes)
	s.steps.Mount(s.engine, conn)

	span.SetAttributes(attribute.String("bootstrap.addr", Addr()))
	span.SetStatus(codes.Ok, "")
	span.End()

	served := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			s.drain()
		case <-served:
		}
	}()

	serveErr := s.steps.Listener.Serve(ctx, Addr(), s.engine, func(net.Addr) {
		if s.advance(StateMountingRoutes, StateListening) {
			slog.Info(fmt.Sprintf("Server is running on port %d.", ListenPort))
		}
	})
	close(served)
	<-watched

	shutCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if closeErr := conn.Close(shutCtx); closeErr != nil {
		slog.Warn("database disconnect failed", "err", closeErr)
	}

	if serveErr != nil {
		if st := s.State(); st != StateListening && st != StateDraining {
			s.transition(StateTerminated)
		}
		return fmt.Errorf("serving on %s: %w", Addr(), serveErr)
	}
	return nil
}

// connectDatabase makes the single connection attempt. Every failure is
// reported as ErrDatabaseConnection, or ErrConnectionTimeout when the
// deadline was hit.
func (s *Sequencer) connectDatabase(ctx context.Context) (*ConnectionHandle, error) {
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.steps.Connector.Connect(ctx)
	if err != nil {
		if conn != nil {
			conn.State = ConnFailed
		}
		switch {
		case errors.Is(err, ErrDatabaseConnection):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrDatabaseConnection, err)
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: connector returned no handle", ErrDatabaseConnection)
	}

	conn.State = ConnConnected
	return conn, nil
}

func (s *Sequencer) transition(next State) {
	s.state.Store(int32(next))
	s.notify(next)
}

// advance moves from one state to the next only if the sequencer is still in
// from. It reports whether the move happened.
func (s *Sequencer) advance(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.notify(to)
	return true
}

// drain takes the sequencer out of the ready state once shutdown starts, so
// /ready fails while in-flight requests finish.
func (s *Sequencer) drain() {
	if s.advance(StateListening, StateDraining) || s.advance(StateMountingRoutes, StateDraining) {
		slog.Info("shutdown started, draining connections")
	}
}

func (s *Sequencer) notify(next State) {
	slog.Debug("bootstrap state", "state", next.String())
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(next)
	}
}
