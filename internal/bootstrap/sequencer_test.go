package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// callLog records the order in which the sequencer drives its steps.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeConnector struct {
	log   *callLog
	err   error
	block bool
}

func (f *fakeConnector) Connect(ctx context.Context) (*ConnectionHandle, error) {
	f.log.add("connect")
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ConnectionHandle{
		Address: Address{URI: "mongodb://mongo:27017/tutorialsdb", Hosts: []string{"mongo:27017"}, Database: "tutorialsdb"},
		State:   ConnPending,
	}, nil
}

type fakeListener struct {
	log   *callLog
	err   error
	addr  string
	serve func(h http.Handler)
}

func (f *fakeListener) Serve(_ context.Context, addr string, h http.Handler, ready func(net.Addr)) error {
	f.log.add("listen")
	f.addr = addr
	if f.err != nil {
		return f.err
	}
	ready(&net.TCPAddr{IP: net.IPv4zero, Port: ListenPort})
	if f.serve != nil {
		f.serve(h)
	}
	return nil
}

func newTestSequencer(log *callLog, conn *fakeConnector, ln *fakeListener, opts Options) *Sequencer {
	return NewSequencer(gin.New(), Steps{
		Configure: func(e *gin.Engine, _ bool) {
			log.add("middleware")
			e.GET("/", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "Welcome to Test application."})
			})
		},
		Connector: conn,
		Mount: func(_ *gin.Engine, _ *ConnectionHandle) {
			log.add("mount")
		},
		Listener: ln,
	}, opts)
}

func TestRun_StepsRunInOrder(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	var transitions []State
	ln := &fakeListener{log: log}
	s := newTestSequencer(log, &fakeConnector{log: log}, ln, Options{
		OnTransition: func(st State) { transitions = append(transitions, st) },
	})

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"middleware", "connect", "mount", "listen"}, log.all())
	assert.Equal(t, []State{
		StateConfiguringMiddleware,
		StateConnectingDB,
		StateMountingRoutes,
		StateListening,
	}, transitions)
	assert.Equal(t, StateListening, s.State())
	assert.True(t, s.IsReady())
}

func TestRun_AlwaysBindsPort3000(t *testing.T) {
	t.Setenv("PORT", "8080")

	log := &callLog{}
	ln := &fakeListener{log: log}
	s := newTestSequencer(log, &fakeConnector{log: log}, ln, Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, "0.0.0.0:3000", ln.addr)
	assert.Equal(t, "0.0.0.0:3000", Addr())
}

func TestRun_WelcomeServedOnceListening(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	var code int
	var body string
	ln := &fakeListener{log: log, serve: func(h http.Handler) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		code, body = w.Code, w.Body.String()
	}}
	s := newTestSequencer(log, &fakeConnector{log: log}, ln, Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"Welcome to Test application."}`, body)
}

func TestRun_ConnectFailureTerminatesBeforeListening(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ln := &fakeListener{log: log}
	s := newTestSequencer(log, &fakeConnector{log: log, err: errors.New("dial tcp: no such host")}, ln, Options{})

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatabaseConnection)
	assert.NotErrorIs(t, err, ErrConnectionTimeout)
	assert.Contains(t, err.Error(), "no such host")
	assert.Equal(t, []string{"middleware", "connect"}, log.all())
	assert.Equal(t, StateTerminated, s.State())
	assert.False(t, s.IsReady())
	assert.Empty(t, ln.addr)
}

func TestRun_ConnectTimeout(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ln := &fakeListener{log: log}
	s := newTestSequencer(log, &fakeConnector{log: log, block: true}, ln, Options{
		ConnectTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	err := s.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.ErrorIs(t, err, ErrDatabaseConnection)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateTerminated, s.State())
	assert.NotContains(t, log.all(), "listen")
}

func TestRun_ConnectorErrorAlreadyClassified(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	wrapped := errors.Join(ErrConnectionTimeout, errors.New("server selection timeout"))
	s := newTestSequencer(log, &fakeConnector{log: log, err: wrapped}, &fakeListener{log: log}, Options{})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrConnectionTimeout)
}

func TestRun_MountReceivesConnectedHandle(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	var mounted *ConnectionHandle
	var stateAtMount State

	s := NewSequencer(gin.New(), Steps{
		Configure: func(*gin.Engine, bool) {},
		Connector: &fakeConnector{log: log},
		Listener:  &fakeListener{log: log},
	}, Options{})
	s.steps.Mount = func(_ *gin.Engine, conn *ConnectionHandle) {
		mounted = conn
		stateAtMount = s.State()
	}

	require.NoError(t, s.Run(context.Background()))
	require.NotNil(t, mounted)
	assert.Equal(t, ConnConnected, mounted.State)
	assert.Equal(t, StateMountingRoutes, stateAtMount)
}

func TestRun_EnableCORSPassedToConfigure(t *testing.T) {
	t.Parallel()

	var got bool
	log := &callLog{}
	s := NewSequencer(gin.New(), Steps{
		Configure: func(_ *gin.Engine, enableCORS bool) { got = enableCORS },
		Connector: &fakeConnector{log: log},
		Mount:     func(*gin.Engine, *ConnectionHandle) {},
		Listener:  &fakeListener{log: log},
	}, Options{EnableCORS: true})

	require.NoError(t, s.Run(context.Background()))
	assert.True(t, got)
}

func TestRun_BindFailure(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ln := &fakeListener{log: log, err: errors.New("address already in use")}
	s := newTestSequencer(log, &fakeConnector{log: log}, ln, Options{})

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDatabaseConnection)
	assert.Equal(t, StateTerminated, s.State())
}

func TestRun_OnlyOnce(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	s := newTestSequencer(log, &fakeConnector{log: log}, &fakeListener{log: log}, Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
	assert.Len(t, log.all(), 4)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress("mongodb://mongo:27017/tutorialsdb", "fallback")
	require.NoError(t, err)
	assert.Equal(t, []string{"mongo:27017"}, addr.Hosts)
	assert.Equal(t, "tutorialsdb", addr.Database)
	assert.Equal(t, "mongo:27017/tutorialsdb", addr.String())

	addr, err = ParseAddress("mongodb://localhost:27017", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", addr.Database)

	_, err = ParseAddress("not-a-uri", "fallback")
	assert.Error(t, err)
}

func TestConnectionHandle_CloseWithoutClient(t *testing.T) {
	t.Parallel()

	var h *ConnectionHandle
	assert.NoError(t, h.Close(context.Background()))
	assert.NoError(t, (&ConnectionHandle{}).Close(context.Background()))
}

// captureLogs swaps the default logger for the duration of the test. Tests
// using it must not run in parallel.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRun_LogsConnectedThenListening(t *testing.T) {
	buf := captureLogs(t)

	log := &callLog{}
	s := newTestSequencer(log, &fakeConnector{log: log}, &fakeListener{log: log}, Options{})
	require.NoError(t, s.Run(context.Background()))

	out := buf.String()
	connected := strings.Index(out, "Connected to the database!")
	listening := strings.Index(out, "Server is running on port 3000.")
	require.GreaterOrEqual(t, connected, 0)
	require.GreaterOrEqual(t, listening, 0)
	assert.Less(t, connected, listening)
	assert.NotContains(t, out, "Cannot connect to the database!")
}

func TestRun_LogsConnectFailure(t *testing.T) {
	buf := captureLogs(t)

	log := &callLog{}
	s := newTestSequencer(log, &fakeConnector{log: log, err: errors.New("connection refused")}, &fakeListener{log: log}, Options{})
	require.Error(t, s.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Cannot connect to the database!")
	assert.NotContains(t, out, "Connected to the database!")
	assert.NotContains(t, out, "Server is running")
}

// drainingListener blocks until ctx is cancelled and then reports what the
// sequencer looked like while the server was still shutting down.
type drainingListener struct {
	seq        *Sequencer
	readyAt    bool
	drainState State
}

func (d *drainingListener) Serve(ctx context.Context, _ string, _ http.Handler, ready func(net.Addr)) error {
	ready(&net.TCPAddr{IP: net.IPv4zero, Port: ListenPort})
	d.readyAt = d.seq.IsReady()
	<-ctx.Done()
	deadline := time.Now().Add(2 * time.Second)
	for d.seq.State() != StateDraining && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.drainState = d.seq.State()
	return nil
}

func TestRun_NotReadyWhileDraining(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ln := &drainingListener{}
	s := NewSequencer(gin.New(), Steps{
		Configure: func(*gin.Engine, bool) {},
		Connector: &fakeConnector{log: log},
		Mount:     func(*gin.Engine, *ConnectionHandle) {},
		Listener:  ln,
	}, Options{})
	ln.seq = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.IsReady, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, ln.readyAt)
	assert.Equal(t, StateDraining, ln.drainState)
	assert.False(t, s.IsReady())
	assert.Equal(t, StateDraining, s.State())
}
