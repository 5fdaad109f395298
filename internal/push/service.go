package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"metaman/api/internal/metrics"
	"metaman/api/internal/store"
)

// ErrPushInProgress is returned when another push holds the lock.
var ErrPushInProgress = errors.New("push already in progress")

// Locker serializes pushes across instances.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Reporter persists the outcome of the last completed push.
type Reporter interface {
	StoreReport(ctx context.Context, report any) error
}

// Result is the outcome of one push run.
type Result struct {
	Status     int     `json:"status"`
	Response   string  `json:"response,omitempty"`
	Deltas     []Delta `json:"deltas"`
	OidcPushed bool    `json:"oidcPushed"`
	Skipped    bool    `json:"skipped"`
}

// Service drives preview and push runs against the configured targets.
type Service struct {
	docs        store.DocumentStore
	builder     *Builder
	engineBlock *Client
	oidcProxy   *Client
	snapshots   Snapshotter
	locker      Locker
	reporter    Reporter
	devProfile  bool
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

type Options struct {
	Docs        store.DocumentStore
	Builder     *Builder
	EngineBlock *Client
	OidcProxy   *Client
	Snapshots   Snapshotter
	Locker      Locker
	Reporter    Reporter
	DevProfile  bool
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

func NewService(opts Options) *Service {
	return &Service{
		docs:        opts.Docs,
		builder:     opts.Builder,
		engineBlock: opts.EngineBlock,
		oidcProxy:   opts.OidcProxy,
		snapshots:   opts.Snapshots,
		locker:      opts.Locker,
		reporter:    opts.Reporter,
		devProfile:  opts.DevProfile,
		metrics:     opts.Metrics,
		log:         opts.Log.With().Str("component", "push").Logger(),
	}
}

// Preview assembles the payload a push would deliver, without side effects.
func (s *Service) Preview(ctx context.Context) (map[string]any, error) {
	docs, err := s.pushableDocs(ctx)
	if err != nil {
		return nil, err
	}
	return s.builder.Connections(docs), nil
}

// Do runs a full push. In the dev profile it reports success without
// touching any target.
func (s *Service) Do(ctx context.Context) (*Result, error) {
	if s.devProfile {
		s.log.Info().Msg("dev profile, push skipped")
		return &Result{Status: 200, Skipped: true, Deltas: []Delta{}}, nil
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "metadata-push", 10*time.Minute)
		if err != nil {
			return nil, ErrPushInProgress
		}
		defer release()
	}
	start := time.Now()

	payload, err := s.Preview(ctx)
	if err != nil {
		return nil, err
	}
	var before Snapshot
	if s.snapshots != nil {
		if before, err = s.snapshots.Providers(ctx); err != nil {
			return nil, err
		}
	}
	status, response, err := s.engineBlock.Post(ctx, payload)
	if err != nil {
		s.metrics.PushesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	result := &Result{Status: status, Response: response, Deltas: []Delta{}}
	if s.snapshots != nil {
		after, err := s.snapshots.Providers(ctx)
		if err != nil {
			return nil, err
		}
		result.Deltas = Diff(before, after)
	}
	if s.oidcProxy != nil {
		if err := s.pushOidc(ctx); err != nil {
			return nil, err
		}
		result.OidcPushed = true
	}

	outcome := "ok"
	if status >= 300 {
		outcome = fmt.Sprintf("http_%d", status)
	}
	s.metrics.PushesTotal.WithLabelValues(outcome).Inc()
	s.metrics.PushDuration.Observe(time.Since(start).Seconds())
	s.log.Info().Int("status", status).Int("deltas", len(result.Deltas)).
		Bool("oidc", result.OidcPushed).Dur("elapsed", time.Since(start)).Msg("push finished")

	if s.reporter != nil {
		if err := s.reporter.StoreReport(ctx, result); err != nil {
			s.log.Warn().Err(err).Msg("failed to store push report")
		}
	}
	return result, nil
}

func (s *Service) pushableDocs(ctx context.Context) ([]*store.MetaData, error) {
	docs := make([]*store.MetaData, 0)
	for _, entityType := range pushedTypes {
		found, err := s.docs.Find(ctx, entityType.Collection(), store.Query{})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entityType.Collection(), err)
		}
		docs = append(docs, found...)
	}
	return docs, nil
}

func (s *Service) pushOidc(ctx context.Context) error {
	relyingParties, err := s.docs.Find(ctx, store.RelyingParty.Collection(), store.Query{})
	if err != nil {
		return fmt.Errorf("load relying parties: %w", err)
	}
	clients := make([]map[string]any, 0, len(relyingParties))
	for _, doc := range relyingParties {
		if !s.builder.Pushable(doc) {
			continue
		}
		clients = append(clients, map[string]any{
			"id":   doc.ID,
			"data": doc.Data,
		})
	}
	status, _, err := s.oidcProxy.Post(ctx, map[string]any{"connections": clients})
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("oidc proxy push: unexpected status %d", status)
	}
	return nil
}
