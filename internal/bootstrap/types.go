package bootstrap

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// State is a step of the startup sequence. States only move forward.
// StateDraining is entered from StateListening when shutdown begins.
type State int32

const (
	StateStart State = iota
	StateConfiguringMiddleware
	StateConnectingDB
	StateMountingRoutes
	StateListening
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateConfiguringMiddleware:
		return "configuring-middleware"
	case StateConnectingDB:
		return "connecting-db"
	case StateMountingRoutes:
		return "mounting-routes"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ConnState is the lifecycle of a ConnectionHandle.
type ConnState string

const (
	ConnPending   ConnState = "pending"
	ConnConnected ConnState = "connected"
	ConnFailed    ConnState = "failed"
)

// Address identifies the database the service connects to.
type Address struct {
	URI      string
	Hosts    []string
	Database string
}

// ParseAddress splits a MongoDB URI into its hosts and database. When the
// URI names no database, fallbackDB is used.
func ParseAddress(uri, fallbackDB string) (Address, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return Address{}, err
	}
	db := cs.Database
	if db == "" {
		db = fallbackDB
	}
	return Address{URI: uri, Hosts: cs.Hosts, Database: db}, nil
}

func (a Address) String() string {
	return strings.Join(a.Hosts, ",") + "/" + a.Database
}

// ConnectionHandle is the live link to the database. It is created once per
// process by the Sequencer and handed to the route mount point after the
// connection succeeds.
type ConnectionHandle struct {
	Address  Address
	State    ConnState
	Client   *mongo.Client
	Database *mongo.Database
}

// Close disconnects the underlying client, if any.
func (h *ConnectionHandle) Close(ctx context.Context) error {
	if h == nil || h.Client == nil {
		return nil
	}
	return h.Client.Disconnect(ctx)
}

// ProbeResult is returned by a health probe for one dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
