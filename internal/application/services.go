package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// Dependencies are the collaborators shared by the application services.
// Store and Catalog are required; everything else is optional.
type Dependencies struct {
	Store    ports.Store
	Catalog  *DisciplineCatalog
	Registry ports.AveragerRegistry
	Cache    ports.CacheStore
	Metrics  ports.MetricsCollector
	Observer ports.RecalcObserver
	Logger   zerolog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (d Dependencies) withDefaults() (Dependencies, error) {
	if d.Store == nil {
		return d, fmt.Errorf("%w: store is required", ErrInvalidRequest)
	}
	if d.Catalog == nil {
		return d, fmt.Errorf("%w: discipline catalog is required", ErrInvalidRequest)
	}
	if d.Registry == nil {
		d.Registry = NewPolicyRegistry()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d, nil
}

// Metric names reported through ports.MetricsCollector.
const (
	metricResultsSubmitted    = "results_submitted_total"
	metricCacheLookups        = "leaderboard_cache_lookups_total"
	metricCompetitionsCreated = "competitions_created_total"
)

// Cache keys for rendered leaderboards. Keys carry the competition's
// render revision, so a rendering made from an older snapshot can never be
// served once the revision has moved on.
func leaderboardCacheKey(competitionID, disciplineID, revision int64) string {
	return fmt.Sprintf("lb:%d:%d:%d", competitionID, disciplineID, revision)
}

func overallCacheKey(competitionID, revision int64) string {
	return fmt.Sprintf("overall:%d:%d", competitionID, revision)
}

// renderKeys lists the cache keys of every rendering of a competition at
// its current render revision. Called before the revision is advanced, it
// names the entries that the write makes obsolete.
func renderKeys(tx ports.Tx, competitionID int64) ([]string, error) {
	rev, err := tx.RenderRevision(competitionID)
	if err != nil {
		return nil, err
	}
	ids, err := tx.CompetitionDisciplines(competitionID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, overallCacheKey(competitionID, rev))
	for _, id := range ids {
		keys = append(keys, leaderboardCacheKey(competitionID, id, rev))
	}
	return keys, nil
}

// invalidate drops cached renderings that a committed write made obsolete.
// Cache failures are logged and never fail the calling operation.
func (d Dependencies) invalidate(ctx context.Context, keys ...string) {
	if d.Cache == nil || len(keys) == 0 {
		return
	}
	if err := d.Cache.Delete(ctx, keys...); err != nil {
		d.Logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

func (d Dependencies) count(metric string, labels map[string]string) {
	if d.Metrics != nil {
		d.Metrics.RecordCounter(metric, 1, labels)
	}
}

// normalizeCompetitionCode upper-cases a user supplied competition code.
func normalizeCompetitionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// competitionByCode loads a competition by its public code.
func competitionByCode(tx ports.Tx, code string) (domain.Competition, error) {
	return tx.CompetitionByCode(normalizeCompetitionCode(code))
}

// attachedDiscipline resolves code through the catalog and checks that the
// discipline belongs to the competition.
func attachedDiscipline(ctx context.Context, tx ports.Tx, catalog *DisciplineCatalog, competitionID int64, code string) (domain.Discipline, error) {
	d, err := catalog.DisciplineByCode(ctx, code)
	if err != nil {
		return domain.Discipline{}, err
	}
	ids, err := tx.CompetitionDisciplines(competitionID)
	if err != nil {
		return domain.Discipline{}, err
	}
	for _, id := range ids {
		if id == d.ID {
			return d, nil
		}
	}
	return domain.Discipline{}, fmt.Errorf("%w: %s", ErrDisciplineNotInCompetition, d.Code)
}
