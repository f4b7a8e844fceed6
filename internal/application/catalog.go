package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

var _ ports.RuleLookup = (*DisciplineCatalog)(nil)

// maxSuggestionDistance is the largest edit distance at which an unknown
// code still gets a "did you mean" suggestion.
const maxSuggestionDistance = 2

// UnknownDisciplineError reports a discipline code missing from the catalog
// together with the closest known code, if any is close enough.
type UnknownDisciplineError struct {
	Code       string
	Suggestion string
}

func (e *UnknownDisciplineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown discipline %q (did you mean %q?)", e.Code, e.Suggestion)
	}
	return fmt.Sprintf("unknown discipline %q", e.Code)
}

// Unwrap returns ErrUnknownDiscipline.
func (e *UnknownDisciplineError) Unwrap() error { return ErrUnknownDiscipline }

// DisciplineCatalog is the in-memory view of the discipline table. It is
// seeded from configuration into the store and then serves rule lookups
// without touching storage.
type DisciplineCatalog struct {
	store  ports.Store
	table  []DisciplineConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	byID   map[int64]domain.Discipline
	byCode map[string]domain.Discipline
}

// NewDisciplineCatalog creates a catalog for table. Call Seed before use.
func NewDisciplineCatalog(store ports.Store, table []DisciplineConfig, logger zerolog.Logger) *DisciplineCatalog {
	return &DisciplineCatalog{
		store:  store,
		table:  table,
		logger: logger.With().Str("component", "discipline_catalog").Logger(),
		byID:   make(map[int64]domain.Discipline),
		byCode: make(map[string]domain.Discipline),
	}
}

// Seed inserts every configured discipline missing from the store and then
// loads the full table. Existing disciplines are never modified, so Seed is
// idempotent.
func (c *DisciplineCatalog) Seed(ctx context.Context) error {
	added := 0
	err := c.store.Update(ctx, func(tx ports.Tx) error {
		added = 0
		for _, cfg := range c.table {
			_, err := tx.DisciplineByCode(normalizeCode(cfg.Code))
			if err == nil {
				continue
			}
			if !errors.Is(err, ports.ErrNotFound) {
				return err
			}

			d := cfg.Discipline()
			d.Code = normalizeCode(d.Code)
			if err := tx.SaveDiscipline(&d); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed disciplines: %w", err)
	}
	c.logger.Info().Int("added", added).Int("configured", len(c.table)).Msg("discipline table seeded")

	return c.Reload(ctx)
}

// Reload replaces the in-memory view with the disciplines in the store.
func (c *DisciplineCatalog) Reload(ctx context.Context) error {
	var all []domain.Discipline
	err := c.store.View(ctx, func(tx ports.Tx) error {
		var err error
		all, err = tx.Disciplines()
		return err
	})
	if err != nil {
		return fmt.Errorf("load disciplines: %w", err)
	}

	byID := make(map[int64]domain.Discipline, len(all))
	byCode := make(map[string]domain.Discipline, len(all))
	for _, d := range all {
		byID[d.ID] = d
		byCode[normalizeCode(d.Code)] = d
	}

	c.mu.Lock()
	c.byID, c.byCode = byID, byCode
	c.mu.Unlock()
	return nil
}

// Rule returns the rule of the discipline with the given id.
func (c *DisciplineCatalog) Rule(ctx context.Context, disciplineID int64) (domain.DisciplineRule, error) {
	d, err := c.Discipline(ctx, disciplineID)
	if err != nil {
		return domain.DisciplineRule{}, err
	}
	return d.Rule, nil
}

// Discipline returns the discipline with the given id.
func (c *DisciplineCatalog) Discipline(_ context.Context, id int64) (domain.Discipline, error) {
	c.mu.RLock()
	d, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return domain.Discipline{}, ports.NewStoreError("discipline", fmt.Sprint(id), "get", ports.ErrNotFound)
	}
	return d, nil
}

// DisciplineByCode resolves code case-insensitively. Unknown codes yield an
// *UnknownDisciplineError.
func (c *DisciplineCatalog) DisciplineByCode(_ context.Context, code string) (domain.Discipline, error) {
	norm := normalizeCode(code)

	c.mu.RLock()
	d, ok := c.byCode[norm]
	c.mu.RUnlock()
	if !ok {
		return domain.Discipline{}, &UnknownDisciplineError{Code: norm, Suggestion: c.Suggest(norm)}
	}
	return d, nil
}

// Disciplines lists the catalog ordered by id.
func (c *DisciplineCatalog) Disciplines() []domain.Discipline {
	c.mu.RLock()
	out := make([]domain.Discipline, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Discipline) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Suggest returns the known code closest to code by Levenshtein distance,
// or "" when none is within maxSuggestionDistance. Ties resolve to the
// lexically smaller code.
func (c *DisciplineCatalog) Suggest(code string) string {
	norm := normalizeCode(code)

	c.mu.RLock()
	defer c.mu.RUnlock()

	best, bestDist := "", maxSuggestionDistance+1
	for known := range c.byCode {
		dist := levenshtein.ComputeDistance(norm, known)
		if dist < bestDist || (dist == bestDist && known < best) {
			best, bestDist = known, dist
		}
	}
	if bestDist > maxSuggestionDistance {
		return ""
	}
	return best
}

// normalizeCode trims and case folds a discipline code. A Caser keeps
// state, so each call gets its own.
func normalizeCode(code string) string {
	return cases.Fold().String(strings.TrimSpace(code))
}
