package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"metaman/api/internal/metrics"
	"metaman/api/internal/store"
)

type fakeLocker struct {
	locked   bool
	releases int
}

func (l *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.locked {
		return nil, errors.New("held elsewhere")
	}
	l.locked = true
	return func() {
		l.locked = false
		l.releases++
	}, nil
}

type fakeSnapshotter struct {
	snapshots []Snapshot
	calls     int
}

func (s *fakeSnapshotter) Providers(_ context.Context) (Snapshot, error) {
	snapshot := s.snapshots[s.calls]
	s.calls++
	return snapshot, nil
}

type fakeReporter struct {
	stored any
}

func (r *fakeReporter) StoreReport(_ context.Context, report any) error {
	r.stored = report
	return nil
}

func seedPushStore(t *testing.T) store.DocumentStore {
	t.Helper()
	docs := store.NewMemoryStore()
	ctx := context.Background()
	saved := []*store.MetaData{
		pushDoc(store.ServiceProvider, "sp-1", "https://sp.example", map[string]any{"name:en": "Example SP"}),
		pushDoc(store.IdentityProvider, "idp-1", "https://idp.example", map[string]any{"name:en": "Example IdP"}),
		pushDoc(store.ServiceProvider, "sp-2", "https://excluded.example",
			map[string]any{"coin:exclude_from_push": true}),
	}
	for _, doc := range saved {
		if err := docs.Save(ctx, doc.Type.Collection(), doc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return docs
}

func newPushService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Docs == nil {
		opts.Docs = seedPushStore(t)
	}
	if opts.Builder == nil {
		opts.Builder = &Builder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	opts.Log = zerolog.Nop()
	return NewService(opts)
}

func TestPreviewBuildsConnections(t *testing.T) {
	service := newPushService(t, Options{})
	payload, err := service.Preview(context.Background())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	connections, _ := payload["connections"].(map[string]any)
	if len(connections) != 2 {
		t.Fatalf("connections = %d, want pushable sp and idp", len(connections))
	}
	if _, ok := connections["sp-2"]; ok {
		t.Fatalf("excluded sp made it into the preview")
	}
}

func TestDoSkipsInDevProfile(t *testing.T) {
	service := newPushService(t, Options{DevProfile: true})
	result, err := service.Do(context.Background())
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !result.Skipped || result.Status != 200 {
		t.Fatalf("result = %+v", result)
	}
}

func TestDoConflictsOnHeldLock(t *testing.T) {
	locker := &fakeLocker{locked: true}
	service := newPushService(t, Options{
		Locker:      locker,
		EngineBlock: NewClient("http://unused.invalid", "u", "p", time.Second),
	})
	_, err := service.Do(context.Background())
	if !errors.Is(err, ErrPushInProgress) {
		t.Fatalf("expected ErrPushInProgress, got %v", err)
	}
}

func TestDoDeliversAndReports(t *testing.T) {
	var received map[string]any
	var authUser string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authUser, _, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"imported":2}`))
	}))
	defer target.Close()

	locker := &fakeLocker{}
	reporter := &fakeReporter{}
	snapshots := &fakeSnapshotter{snapshots: []Snapshot{
		{},
		{"https://sp.example": {"entity_id": "https://sp.example"}},
	}}
	service := newPushService(t, Options{
		EngineBlock: NewClient(target.URL, "eb-user", "eb-pass", time.Second),
		Locker:      locker,
		Reporter:    reporter,
		Snapshots:   snapshots,
	})

	result, err := service.Do(context.Background())
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if result.Status != http.StatusOK || result.Response != `{"imported":2}` {
		t.Fatalf("result = %+v", result)
	}
	if authUser != "eb-user" {
		t.Fatalf("basic auth user = %q", authUser)
	}
	connections, _ := received["connections"].(map[string]any)
	if len(connections) != 2 {
		t.Fatalf("delivered connections = %d", len(connections))
	}
	if len(result.Deltas) != 1 || result.Deltas[0].Column != "*" {
		t.Fatalf("deltas = %+v", result.Deltas)
	}
	if reporter.stored == nil {
		t.Fatalf("report not stored")
	}
	if locker.releases != 1 {
		t.Fatalf("lock not released")
	}
}

func TestDoPushesOidcProxy(t *testing.T) {
	engineBlock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer engineBlock.Close()

	var oidcPayload map[string]any
	oidcProxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&oidcPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer oidcProxy.Close()

	docs := store.NewMemoryStore()
	rp := pushDoc(store.RelyingParty, "rp-1", "rp@example", map[string]any{"name:en": "Example RP"})
	if err := docs.Save(context.Background(), store.RelyingParty.Collection(), rp); err != nil {
		t.Fatalf("seed: %v", err)
	}
	service := newPushService(t, Options{
		Docs:        docs,
		EngineBlock: NewClient(engineBlock.URL, "u", "p", time.Second),
		OidcProxy:   NewClient(oidcProxy.URL, "u", "p", time.Second),
	})

	result, err := service.Do(context.Background())
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !result.OidcPushed {
		t.Fatalf("oidc proxy not pushed")
	}
	clients, _ := oidcPayload["connections"].([]any)
	if len(clients) != 1 {
		t.Fatalf("oidc payload = %v", oidcPayload)
	}
}

func TestClientReturnsNon2xxWithoutError(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broken"))
	}))
	defer target.Close()

	client := NewClient(target.URL, "u", "p", time.Second)
	status, body, err := client.Post(context.Background(), map[string]any{"connections": map[string]any{}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if status != http.StatusBadGateway || body != "upstream broken" {
		t.Fatalf("status = %d body = %q", status, body)
	}
}
