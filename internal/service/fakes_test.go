package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mls-sync/internal/adapter"
	"github.com/mls-sync/internal/config"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/storage"
	"github.com/mls-sync/internal/transform"
	"github.com/mls-sync/internal/types"
)

// fakeClient serves canned provider records
type fakeClient struct {
	mu sync.Mutex

	source    string
	listings  map[string][]string // status -> raw records
	members   []string
	lookups   map[string]string
	lookupErr map[string]error
	searchErr error
	pingErr   error

	queries     []adapter.ListingQuery
	lookupCalls int
}

func newFakeClient(source string) *fakeClient {
	return &fakeClient{
		source:    source,
		listings:  map[string][]string{},
		lookups:   map[string]string{},
		lookupErr: map[string]error{},
	}
}

func (c *fakeClient) Source() string { return c.source }

func (c *fakeClient) SearchListings(ctx context.Context, q adapter.ListingQuery, fn adapter.PageFunc) (adapter.PageStats, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	records := c.listings[q.Status]
	err := c.searchErr
	c.mu.Unlock()

	if err != nil {
		return adapter.PageStats{}, err
	}
	return c.page(ctx, records, fn)
}

func (c *fakeClient) ExportMembers(ctx context.Context, pageSize, maxPages int, fn adapter.PageFunc) (adapter.PageStats, error) {
	return c.page(ctx, c.members, fn)
}

func (c *fakeClient) page(ctx context.Context, records []string, fn adapter.PageFunc) (adapter.PageStats, error) {
	if len(records) == 0 {
		return adapter.PageStats{}, nil
	}
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = json.RawMessage(r)
	}
	if err := fn(ctx, raws); err != nil {
		return adapter.PageStats{}, err
	}
	return adapter.PageStats{Pages: 1, Records: len(raws)}, nil
}

func (c *fakeClient) GetMember(ctx context.Context, key string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupCalls++

	if err, ok := c.lookupErr[key]; ok {
		return nil, err
	}
	raw, ok := c.lookups[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("member", key)
	}
	return json.RawMessage(raw), nil
}

func (c *fakeClient) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeClient) lastQuery() adapter.ListingQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[len(c.queries)-1]
}

// memStore is an in-memory stand-in for the Postgres repositories
type memStore struct {
	mu sync.Mutex

	listings map[string]map[string]*models.Listing
	agents   map[string]map[string]*models.Agent
	history  []*models.SyncHistory

	snapshotErr error
	upsertErr   error
}

func newMemStore() *memStore {
	return &memStore{
		listings: map[string]map[string]*models.Listing{},
		agents:   map[string]map[string]*models.Agent{},
	}
}

func copyListing(l *models.Listing) *models.Listing {
	c := *l
	c.StatusHistory = append([]models.StatusChange{}, l.StatusHistory...)
	if l.AgentKey != nil {
		k := *l.AgentKey
		c.AgentKey = &k
	}
	return &c
}

func copyAgent(a *models.Agent) *models.Agent {
	c := *a
	c.PendingListings = append([]string{}, a.PendingListings...)
	return &c
}

func (m *memStore) putListing(l *models.Listing) {
	if m.listings[l.Source] == nil {
		m.listings[l.Source] = map[string]*models.Listing{}
	}
	next := copyListing(l)
	if prev, ok := m.listings[l.Source][l.SourceID]; ok && len(prev.StatusHistory) > len(next.StatusHistory) {
		next.StatusHistory = prev.StatusHistory
	}
	m.listings[l.Source][l.SourceID] = next
}

func (m *memStore) putAgent(a *models.Agent) {
	if m.agents[a.Source] == nil {
		m.agents[a.Source] = map[string]*models.Agent{}
	}
	m.agents[a.Source][a.SourceID] = copyAgent(a)
}

func (m *memStore) sortedListings(source string) []*models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Listing
	for _, l := range m.listings[source] {
		out = append(out, copyListing(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (m *memStore) agent(source, key string) *models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[source][key]; ok {
		return copyAgent(a)
	}
	return nil
}

func (m *memStore) Get(ctx context.Context, source, sourceID string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[source][sourceID]; ok {
		return copyListing(l), nil
	}
	return nil, apperrors.NewNotFoundError("listing", sourceID)
}

func (m *memStore) List(ctx context.Context, filter storage.ListingFilter, page models.Pagination) ([]*models.Listing, int, error) {
	var out []*models.Listing
	for _, l := range m.sortedListings(filter.Source) {
		if filter.Status != "" && l.LifecycleStatus != filter.Status {
			continue
		}
		out = append(out, l)
	}
	return paginate(out, page), len(out), nil
}

func (m *memStore) MapBySource(ctx context.Context, source string) (map[string]*models.Listing, error) {
	out := map[string]*models.Listing{}
	for _, l := range m.sortedListings(source) {
		out[l.SourceID] = l
	}
	return out, nil
}

func (m *memStore) MapByKeys(ctx context.Context, source string, keys []string) (map[string]*models.Listing, error) {
	all, _ := m.MapBySource(ctx, source)
	out := map[string]*models.Listing{}
	for _, k := range keys {
		if l, ok := all[k]; ok {
			out[k] = l
		}
	}
	return out, nil
}

func (m *memStore) PendingKeysByAgent(ctx context.Context, source string, agentKeys []string) (map[string][]string, error) {
	want := map[string]bool{}
	for _, k := range agentKeys {
		want[k] = true
	}
	out := map[string][]string{}
	for _, l := range m.sortedListings(source) {
		if l.LifecycleStatus == types.LifecyclePending && l.AgentKey != nil && want[*l.AgentKey] {
			out[*l.AgentKey] = append(out[*l.AgentKey], l.SourceID)
		}
	}
	return out, nil
}

func (m *memStore) UpsertBatch(ctx context.Context, listings []*models.Listing) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	for _, l := range listings {
		m.putListing(l)
	}
	return len(listings), nil
}

func (m *memStore) ReplaceSource(ctx context.Context, source string, listings []*models.Listing, agents []*models.Agent) (storage.SnapshotResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return storage.SnapshotResult{}, m.snapshotErr
	}
	delete(m.listings, source)
	delete(m.agents, source)
	for _, l := range listings {
		m.putListing(l)
	}
	for _, a := range agents {
		m.putAgent(a)
	}
	return storage.SnapshotResult{Listings: len(listings), Agents: len(agents)}, nil
}

// memAgents adapts memStore to the agent repository, whose method names overlap the listing one
type memAgents struct{ m *memStore }

func (a memAgents) Get(ctx context.Context, source, key string) (*models.Agent, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, ag := range a.m.agents[source] {
		if ag.SourceID == key || ag.MemberKey == key {
			return copyAgent(ag), nil
		}
	}
	return nil, apperrors.NewNotFoundError("agent", key)
}

func (a memAgents) List(ctx context.Context, source string, page models.Pagination) ([]*models.Agent, int, error) {
	all, _ := a.ListBySource(ctx, source)
	return paginate(all, page), len(all), nil
}

func (a memAgents) ListBySource(ctx context.Context, source string) ([]*models.Agent, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	out := []*models.Agent{}
	for _, ag := range a.m.agents[source] {
		out = append(out, copyAgent(ag))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (a memAgents) UpsertBatch(ctx context.Context, agents []*models.Agent) (int, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, ag := range agents {
		a.m.putAgent(ag)
	}
	return len(agents), nil
}

// memHistory adapts memStore to the sync history repository
type memHistory struct{ m *memStore }

func (h memHistory) Create(ctx context.Context, run *models.SyncHistory) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	c := *run
	h.m.history = append(h.m.history, &c)
	return nil
}

func (h memHistory) Finalize(ctx context.Context, run *models.SyncHistory) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	for i, existing := range h.m.history {
		if existing.ID == run.ID {
			c := *run
			h.m.history[i] = &c
			return nil
		}
	}
	return apperrors.NewNotFoundError("sync run", run.ID)
}

func (h memHistory) LastSuccessful(ctx context.Context, source string) (*models.SyncHistory, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var best *models.SyncHistory
	for _, run := range h.m.history {
		if run.Source != source || run.Status != types.RunStatusSuccess || run.EndTime == nil {
			continue
		}
		if best == nil || run.EndTime.After(*best.EndTime) {
			best = run
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

func (h memHistory) FindInProgress(ctx context.Context, source string) ([]*models.SyncHistory, error) {
	runs, _, err := h.List(ctx, models.SyncHistoryFilter{Source: source, Status: types.RunStatusInProgress}, models.Pagination{Limit: 100})
	return runs, err
}

func (h memHistory) AbandonStale(ctx context.Context, source string, cutoff, now time.Time) (int, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	n := 0
	for _, run := range h.m.history {
		if run.Source == source && run.Status == types.RunStatusInProgress && run.StartTime.Before(cutoff) {
			msg := "abandoned"
			end := now
			run.Status = types.RunStatusFailed
			run.Error = &msg
			run.EndTime = &end
			n++
		}
	}
	return n, nil
}

func (h memHistory) List(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) ([]*models.SyncHistory, int, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var out []*models.SyncHistory
	for i := len(h.m.history) - 1; i >= 0; i-- {
		run := h.m.history[i]
		if filter.Source != "" && run.Source != filter.Source {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Mode != "" && run.Mode != filter.Mode {
			continue
		}
		c := *run
		out = append(out, &c)
	}
	return paginate(out, page), len(out), nil
}

func paginate[T any](items []T, page models.Pagination) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

// recordingSink captures audit events
type recordingSink struct {
	mu     sync.Mutex
	events []models.StatusEvent
	err    error
}

func (s *recordingSink) Record(ctx context.Context, events []models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

// harness wires a SyncService over fakes with a controllable clock
type harness struct {
	svc    *SyncService
	client *fakeClient
	store  *memStore
	sink   *recordingSink
	lock   *storage.RunLock
	clock  time.Time
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Lookback:               24 * time.Hour,
		PageSize:               100,
		MaxPages:               10,
		MaxIncrementalPages:    5,
		EnrichConcurrency:      3,
		StaleRunAfter:          6 * time.Hour,
		StatusFilters:          []string{"Active", "Pending"},
		CircuitBreakerFailures: 5,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.SyncConfig)) *harness {
	t.Helper()

	cfg := testSyncConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	h := &harness{
		client: newFakeClient("demo"),
		store:  newMemStore(),
		sink:   &recordingSink{},
		lock:   storage.NewRunLock(storage.NewRedisCacheFromClient(rc), time.Minute),
		clock:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	h.svc = NewSyncService(cfg, Dependencies{
		Listings:  h.store,
		Agents:    memAgents{h.store},
		Snapshots: h.store,
		History:   memHistory{h.store},
		Lock:      h.lock,
		Events:    h.sink,
	}, Source{
		Name:        "demo",
		Client:      h.client,
		Transformer: transform.New("demo", transform.ShapeRESO, transform.ShapeRESO),
	})
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}
