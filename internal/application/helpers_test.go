package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cubecomp/infrastructure/storage"
	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// testTable is a small discipline table covering all three policies.
var testTable = []DisciplineConfig{
	{Name: "3x3x3 Cube", Code: "3x3", MaxTimeMinutes: 10, Rule: domain.DisciplineRule{AttemptCount: 5, Policy: domain.PolicyAverageOf5}},
	{Name: "2x2x2 Cube", Code: "2x2", MaxTimeMinutes: 10, Rule: domain.DisciplineRule{AttemptCount: 5, Policy: domain.PolicyAverageOf5}},
	{Name: "7x7x7 Cube", Code: "7x7", MaxTimeMinutes: 10, Rule: domain.DisciplineRule{AttemptCount: 3, Policy: domain.PolicyMeanOf3}},
	{Name: "3x3x3 Blindfolded", Code: "3bld", MaxTimeMinutes: 10, Rule: domain.DisciplineRule{AttemptCount: 3, Policy: domain.PolicyBestOf3}},
}

// memCache is a ports.CacheStore backed by a map.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes []string
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// countingMetrics records counter totals by metric name.
type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
	labels   map[string][]map[string]string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counters: map[string]float64{}, labels: map[string][]map[string]string{}}
}

func (m *countingMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (m *countingMetrics) RecordGauge(string, float64, map[string]string)        {}
func (m *countingMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
	m.labels[metric] = append(m.labels[metric], labels)
}

// testEnv wires both services over an in-memory store.
type testEnv struct {
	store        *storage.BadgerStore
	catalog      *DisciplineCatalog
	competitions *CompetitionService
	scoring      *ScoringService
	cache        *memCache
	metrics      *countingMetrics
	now          time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog := NewDisciplineCatalog(store, testTable, zerolog.Nop())
	require.NoError(t, catalog.Seed(ctx))

	env := &testEnv{
		store:   store,
		catalog: catalog,
		cache:   newMemCache(),
		metrics: newCountingMetrics(),
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	deps := Dependencies{
		Store:   store,
		Catalog: catalog,
		Cache:   env.cache,
		Metrics: env.metrics,
		Logger:  zerolog.Nop(),
		Clock:   func() time.Time { return env.now },
	}
	env.competitions, err = NewCompetitionService(deps)
	require.NoError(t, err)
	env.scoring, err = NewScoringService(deps, ScoringOptions{})
	require.NoError(t, err)
	return env
}

// user registers a user with the given chat id and names.
func (e *testEnv) user(t *testing.T, chatID int64, first, last string) domain.User {
	t.Helper()
	u, err := e.competitions.RegisterUser(context.Background(), RegisterUserRequest{
		ChatID: chatID, FirstName: first, LastName: last,
	})
	require.NoError(t, err)
	return u
}

// competition creates a competition owned by organizer with disciplines.
func (e *testEnv) competition(t *testing.T, organizer domain.User, disciplines ...string) domain.Competition {
	t.Helper()
	c, err := e.competitions.CreateCompetition(context.Background(), CreateCompetitionRequest{
		OrganizerID: organizer.ID, Name: "Test Open", DisciplineCodes: disciplines,
	})
	require.NoError(t, err)
	return c
}

// register registers users for comp.
func (e *testEnv) register(t *testing.T, comp domain.Competition, users ...domain.User) {
	t.Helper()
	for _, u := range users {
		_, err := e.competitions.RegisterParticipant(context.Background(), comp.Code, u.ID)
		require.NoError(t, err)
	}
}

// submit submits attempts and requires success.
func (e *testEnv) submit(t *testing.T, comp domain.Competition, discipline string, u domain.User, attempts ...string) domain.Result {
	t.Helper()
	r, err := e.scoring.SubmitResult(context.Background(), SubmitResultRequest{
		CompetitionCode: comp.Code, DisciplineCode: discipline, UserID: u.ID, Attempts: attempts,
	})
	require.NoError(t, err)
	return r
}

// renderRevision reads the competition's current render revision.
func (e *testEnv) renderRevision(t *testing.T, competitionID int64) int64 {
	t.Helper()
	var rev int64
	require.NoError(t, e.store.View(context.Background(), func(tx ports.Tx) error {
		var err error
		rev, err = tx.RenderRevision(competitionID)
		return err
	}))
	return rev
}

// overallKey is the cache key of the competition's current overall rendering.
func (e *testEnv) overallKey(t *testing.T, competitionID int64) string {
	t.Helper()
	return overallCacheKey(competitionID, e.renderRevision(t, competitionID))
}

// leaderboardKey is the cache key of a discipline's current rendering.
func (e *testEnv) leaderboardKey(t *testing.T, competitionID int64, discipline string) string {
	t.Helper()
	d, err := e.catalog.DisciplineByCode(context.Background(), discipline)
	require.NoError(t, err)
	return leaderboardCacheKey(competitionID, d.ID, e.renderRevision(t, competitionID))
}

var _ ports.CacheStore = (*memCache)(nil)
var _ ports.MetricsCollector = (*countingMetrics)(nil)
