package tutorial

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"tutorials/backend/internal/metrics"
)

const (
	cachePrefix = "tutorial:"
	genPrefix   = "tutorial-gen:"
	genAll      = genPrefix + "all"
)

// Cache is satisfied by *clients.RedisCache. Read-through writes are
// conditional on generation keys that every invalidation bumps.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generations(ctx context.Context, genKeys ...string) ([]string, error)
	SetIfGenerations(ctx context.Context, key string, value []byte, genKeys, gens []string) (bool, error)
	Invalidate(ctx context.Context, genKey string, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Cache keys use the canonical lower-case hex, whatever case the caller sent.
func cacheKey(oid primitive.ObjectID) string { return cachePrefix + oid.Hex() }

func genKeys(oid primitive.ObjectID) []string {
	return []string{genPrefix + oid.Hex(), genAll}
}

// Publisher is satisfied by *clients.EventPublisher.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Event types published on "tutorials.<type>".
const (
	EventCreated    = "created"
	EventUpdated    = "updated"
	EventDeleted    = "deleted"
	EventDeletedAll = "deleted_all"
)

// Event is the payload of a change event.
type Event struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Tutorial *Tutorial `json:"tutorial,omitempty"`
	Count    int64     `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

// Service is what the HTTP routes call. The store is authoritative; the
// cache and publisher are optional and their failures are logged, never
// returned.
type Service struct {
	store  Store
	cache  Cache
	events Publisher
}

// Option configures a Service.
type Option func(*Service)

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Tutorial, error) {
	t, err := s.store.Create(ctx, in)
	observe("create", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventCreated, ID: t.ID.Hex(), Tutorial: t})
	return t, nil
}

func (s *Service) List(ctx context.Context) ([]Tutorial, error) {
	ts, err := s.store.List(ctx, false)
	observe("list", err)
	return ts, err
}

func (s *Service) ListPublished(ctx context.Context) ([]Tutorial, error) {
	ts, err := s.store.List(ctx, true)
	observe("list_published", err)
	return ts, err
}

// Get reads through the cache when one is configured.
func (s *Service) Get(ctx context.Context, id string) (*Tutorial, error) {
	oid, err := ParseID(id)
	if err != nil {
		observe("get", err)
		return nil, err
	}

	if t, ok := s.cached(ctx, oid); ok {
		observe("get", nil)
		return t, nil
	}
	gens, canFill := s.generations(ctx, oid)

	t, err := s.store.Get(ctx, id)
	observe("get", err)
	if err != nil {
		return nil, err
	}

	if canFill {
		s.fill(ctx, oid, t, gens)
	}
	return t, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) error {
	err := s.store.Update(ctx, id, in)
	observe("update", err)
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.publish(ctx, Event{Type: EventUpdated, ID: id})
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	observe("delete", err)
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.publish(ctx, Event{Type: EventDeleted, ID: id})
	return nil
}

func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAll(ctx)
	observe("delete_all", err)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, genAll); err != nil {
			slog.WarnContext(ctx, "tutorial cache invalidate failed", "err", err)
		}
		if _, err := s.cache.DeletePrefix(ctx, cachePrefix); err != nil {
			slog.WarnContext(ctx, "tutorial cache flush failed", "err", err)
		}
	}
	s.publish(ctx, Event{Type: EventDeletedAll, Count: n})
	return n, nil
}

func (s *Service) cached(ctx context.Context, oid primitive.ObjectID) (*Tutorial, bool) {
	if s.cache == nil {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, cacheKey(oid))
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "tutorial cache get failed", "id", oid.Hex(), "err", err)
		return nil, false
	case !ok:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	var t Tutorial
	if err := json.Unmarshal(b, &t); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &t, true
}

// generations snapshots the generation keys before the store read. ok is
// false when there is no cache or the snapshot failed.
func (s *Service) generations(ctx context.Context, oid primitive.ObjectID) (gens []string, ok bool) {
	if s.cache == nil {
		return nil, false
	}
	gens, err := s.cache.Generations(ctx, genKeys(oid)...)
	if err != nil {
		slog.WarnContext(ctx, "tutorial cache generations failed", "id", oid.Hex(), "err", err)
		return nil, false
	}
	return gens, true
}

// fill stores t unless an update or delete has invalidated oid since gens
// was read.
func (s *Service) fill(ctx context.Context, oid primitive.ObjectID, t *Tutorial, gens []string) {
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	written, err := s.cache.SetIfGenerations(ctx, cacheKey(oid), b, genKeys(oid), gens)
	if err != nil {
		slog.WarnContext(ctx, "tutorial cache set failed", "id", oid.Hex(), "err", err)
		return
	}
	if !written {
		slog.DebugContext(ctx, "tutorial cache fill skipped, invalidated during read", "id", oid.Hex())
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	oid, err := ParseID(id)
	if err != nil {
		return
	}
	if err := s.cache.Invalidate(ctx, genPrefix+oid.Hex(), cacheKey(oid)); err != nil {
		slog.WarnContext(ctx, "tutorial cache invalidate failed", "id", id, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	ev.At = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, "tutorials."+ev.Type, b); err != nil {
		metrics.EventPublishFailures.Inc()
		slog.WarnContext(ctx, "tutorial event publish failed", "type", ev.Type, "err", err)
	}
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidID):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.TutorialOperations.WithLabelValues(op, result).Inc()
}
