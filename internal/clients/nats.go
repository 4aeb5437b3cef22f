package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"tutorials/backend/internal/bootstrap"
	"tutorials/backend/internal/config"
)

const (
	natsProbeName    = "nats"
	eventSubjectRoot = "tutorials"
	eventsMaxAge     = 7 * 24 * time.Hour
)

// jsContext is the subset of nats.JetStreamContext used for stream
// management and publishing.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// EventPublisher publishes tutorial change events to a JetStream stream. The
// connection is opened on first use and kept until Close.
type EventPublisher struct {
	url    string
	stream string
	cb     *gobreaker.CircuitBreaker
	newJS  func(url string) (jsContext, func(), error)

	mu      sync.Mutex
	js      jsContext
	cleanup func()
}

// NewEventPublisher constructs an EventPublisher. No connection is made at
// construction time.
func NewEventPublisher(cfg config.EventsConfig, cb *gobreaker.CircuitBreaker) *EventPublisher {
	return &EventPublisher{
		url:    cfg.URL,
		stream: cfg.Stream,
		cb:     cb,
		newJS:  realNewJS,
	}
}

// Subjects returns the subjects captured by the events stream.
func Subjects() []string {
	return []string{eventSubjectRoot + ".>"}
}

// ProvisionStream creates the events stream, or updates it if it already
// exists.
func (p *EventPublisher) ProvisionStream(ctx context.Context) error {
	_, err := p.cb.Execute(func() (any, error) {
		js, err := p.conn()
		if err != nil {
			return nil, err
		}

		cfg := &nats.StreamConfig{
			Name:      p.stream,
			Subjects:  Subjects(),
			Retention: nats.LimitsPolicy,
			MaxAge:    eventsMaxAge,
		}

		_, err = js.StreamInfo(p.stream, nats.Context(ctx))
		switch {
		case errors.Is(err, nats.ErrStreamNotFound):
			if _, addErr := js.AddStream(cfg, nats.Context(ctx)); addErr != nil {
				return nil, fmt.Errorf("creating stream %s: %w", p.stream, addErr)
			}
		case err != nil:
			return nil, fmt.Errorf("querying stream %s: %w", p.stream, err)
		default:
			if _, updErr := js.UpdateStream(cfg, nats.Context(ctx)); updErr != nil {
				return nil, fmt.Errorf("updating stream %s: %w", p.stream, updErr)
			}
		}
		return nil, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("circuit open: %w", err)
		}
		return err
	}
	return nil
}

// Publish sends data on subject and waits for the stream acknowledgement.
func (p *EventPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.cb.Execute(func() (any, error) {
		js, err := p.conn()
		if err != nil {
			return nil, err
		}
		if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", subject, err)
		}
		return nil, nil
	})
	return err
}

// Probe verifies NATS connectivity. A missing stream is not a failure; it
// only means ProvisionStream has not run yet.
func (p *EventPublisher) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := p.cb.Execute(func() (any, error) {
		js, err := p.conn()
		if err != nil {
			return nil, err
		}
		_, infoErr := js.StreamInfo(p.stream, nats.Context(ctx))
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", infoErr)
		}
		return nil, nil
	})

	return probeResult(natsProbeName, start, err)
}

// Close drains the connection if one was opened.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleanup != nil {
		p.cleanup()
	}
	p.js, p.cleanup = nil, nil
}

func (p *EventPublisher) conn() (jsContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js != nil {
		return p.js, nil
	}
	js, cleanup, err := p.newJS(p.url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	p.js, p.cleanup = js, cleanup
	return js, nil
}

// realNewJS opens a real NATS connection and returns a JetStreamContext plus a
// cleanup function that drains and closes the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url, nats.Name("tutorials"))
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}, nil
}
