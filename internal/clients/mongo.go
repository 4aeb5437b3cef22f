package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tutorials/backend/internal/bootstrap"
	"tutorials/backend/internal/config"
)

const (
	mongoProbeName = "mongodb"
	mongoAppName   = "tutorials"

	// unboundedSelection replaces the driver's 30s server selection default
	// when no connect timeout is configured; the wait then ends only when the
	// caller's context does.
	unboundedSelection = 100 * 365 * 24 * time.Hour
)

var errNotConnected = errors.New("not connected")

// MongoClient opens the single database connection used by the service and
// probes it for deep health checks.
type MongoClient struct {
	cfg config.MongoConfig
	cb  *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	handle *bootstrap.ConnectionHandle

	// ping overrides the live ping in tests.
	ping func(ctx context.Context) error
}

// NewMongoClient creates a MongoClient. No connection is made until Connect.
func NewMongoClient(cfg config.MongoConfig, cb *gobreaker.CircuitBreaker) *MongoClient {
	return &MongoClient{cfg: cfg, cb: cb}
}

// Connect opens the client and pings the primary, so an unreachable server
// fails here rather than on the first request. The returned handle is in
// ConnPending state; the caller promotes it. On failure the handle, when
// non-nil, is marked ConnFailed.
func (c *MongoClient) Connect(ctx context.Context) (*bootstrap.ConnectionHandle, error) {
	addr, err := bootstrap.ParseAddress(c.cfg.URI, c.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing uri: %w", bootstrap.ErrDatabaseConnection, err)
	}

	handle := &bootstrap.ConnectionHandle{Address: addr, State: bootstrap.ConnPending}

	client, err := mongo.Connect(ctx, clientOptions(c.cfg))
	if err != nil {
		handle.State = bootstrap.ConnFailed
		return handle, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		handle.State = bootstrap.ConnFailed
		if mongo.IsTimeout(err) {
			return handle, fmt.Errorf("%w: pinging %s: %w", bootstrap.ErrConnectionTimeout, addr, err)
		}
		return handle, fmt.Errorf("pinging %s: %w", addr, err)
	}

	handle.Client = client
	handle.Database = client.Database(addr.Database)

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()

	return handle, nil
}

// clientOptions are the fixed driver settings. A positive ConnectTimeout
// bounds both dialing and server selection; zero leaves selection unbounded.
func clientOptions(cfg config.MongoConfig) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI).SetAppName(mongoAppName)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	} else {
		opts.SetServerSelectionTimeout(unboundedSelection)
	}
	return opts
}

// Handle returns the connection opened by Connect, or nil.
func (c *MongoClient) Handle() *bootstrap.ConnectionHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// Probe pings the primary through the circuit breaker. Before Connect has
// succeeded it reports "not connected".
func (c *MongoClient) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		ping := c.ping
		if ping == nil {
			h := c.Handle()
			if h == nil || h.Client == nil {
				return nil, errNotConnected
			}
			ping = func(ctx context.Context) error {
				return h.Client.Ping(ctx, readpref.Primary())
			}
		}
		if err := ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	return probeResult(mongoProbeName, start, err)
}
