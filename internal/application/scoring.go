package application

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// SubmitResultRequest carries a participant's raw attempt strings for one
// discipline.
type SubmitResultRequest struct {
	CompetitionCode string   `json:"-"`
	DisciplineCode  string   `json:"-"`
	UserID          int64    `json:"user_id" validate:"required"`
	Attempts        []string `json:"attempts" validate:"required,min=1,max=5"`
}

// ParticipantResult pairs a stored result with its discipline.
type ParticipantResult struct {
	Discipline domain.Discipline `json:"discipline"`
	Result     domain.Result     `json:"result"`
}

// ScoringOptions tunes the scoring service.
type ScoringOptions struct {
	// CacheTTL is how long rendered leaderboards stay cached. Zero keeps
	// them until a write makes them obsolete.
	CacheTTL time.Duration
	// MaxConcurrency bounds concurrent discipline recalculations in
	// RecalculateCompetition. Zero means 4.
	MaxConcurrency int
}

// ScoringService records results and maintains discipline leaderboards and
// the overall standing.
//
// A submission replaces the participant's result and recomputes both the
// discipline leaderboard and the overall standing in the same storage
// transaction, so stored leaderboards always reflect the stored results.
// Writes that replace a competition's standings are serialized per
// competition; the store's conflict retries only cover writers in other
// processes.
type ScoringService struct {
	deps   Dependencies
	opts   ScoringOptions
	logger zerolog.Logger
	group  singleflight.Group
	locks  *competitionLocks
}

// NewScoringService creates a ScoringService.
func NewScoringService(deps Dependencies, opts ScoringOptions) (*ScoringService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &ScoringService{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With().Str("component", "scoring_service").Logger(),
		locks:  newCompetitionLocks(),
	}, nil
}

// SubmitResult validates and stores a participant's attempts, replacing any
// earlier submission for the same discipline, and recalculates the affected
// leaderboards.
func (s *ScoringService) SubmitResult(ctx context.Context, req SubmitResultRequest) (domain.Result, error) {
	labels := map[string]string{"discipline": "unknown", "status": "rejected"}
	if d, err := s.deps.Catalog.DisciplineByCode(ctx, req.DisciplineCode); err == nil {
		labels["discipline"] = d.Code
	}
	defer func() { s.deps.count(metricResultsSubmitted, labels) }()

	attempts, err := domain.ParseAttempts(req.Attempts)
	if err != nil {
		return domain.Result{}, err
	}

	compID, err := s.competitionID(ctx, req.CompetitionCode)
	if err != nil {
		return domain.Result{}, err
	}
	unlock, err := s.locks.lock(ctx, compID)
	if err != nil {
		return domain.Result{}, err
	}
	defer unlock()

	var (
		result domain.Result
		stale  []string
	)
	err = s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, req.CompetitionCode)
		if err != nil {
			return err
		}
		if !comp.AcceptsResults() {
			return ErrCompetitionClosed
		}

		participant, err := tx.Participant(comp.ID, req.UserID)
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%w: user %d in %s", ErrNotRegistered, req.UserID, comp.Code)
		}
		if err != nil {
			return err
		}

		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, req.DisciplineCode)
		if err != nil {
			return err
		}
		if len(attempts) != d.Rule.AttemptCount {
			return domain.CountMismatchError(d.Rule.AttemptCount, len(attempts))
		}
		avg, err := s.deps.Registry.Averager(d.Rule)
		if err != nil {
			return err
		}

		now := s.deps.Clock()
		result, err = tx.Result(comp.ID, d.ID, participant.ID)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			result = domain.Result{
				CompetitionID: comp.ID,
				DisciplineID:  d.ID,
				ParticipantID: participant.ID,
				UserID:        req.UserID,
				SubmittedAt:   now,
			}
		case err != nil:
			return err
		}
		if err := result.SetAttempts(avg, attempts); err != nil {
			return err
		}
		result.UpdatedAt = now
		if err := tx.PutResult(result); err != nil {
			return err
		}

		if stale, err = renderKeys(tx, comp.ID); err != nil {
			return err
		}
		if _, err := s.recalculateDiscipline(ctx, tx, comp.ID, d.ID); err != nil {
			return err
		}
		_, err = s.recalculateOverall(ctx, tx, comp.ID)
		return err
	})
	if err != nil {
		return domain.Result{}, err
	}

	labels["status"] = "accepted"
	s.deps.invalidate(ctx, stale...)
	s.logger.Info().
		Int64("competition_id", result.CompetitionID).
		Int64("discipline_id", result.DisciplineID).
		Int64("user_id", result.UserID).
		Stringer("average", result.Average).
		Msg("result submitted")
	return result, nil
}

// RecalculateDiscipline rebuilds and stores one discipline leaderboard.
// Concurrent calls for the same discipline share one recalculation.
func (s *ScoringService) RecalculateDiscipline(ctx context.Context, code, disciplineCode string) ([]domain.LeaderboardRow, error) {
	var compID, discID int64
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, disciplineCode)
		if err != nil {
			return err
		}
		compID, discID = comp.ID, d.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.recalculateDisciplineByID(ctx, compID, discID)
}

func (s *ScoringService) recalculateDisciplineByID(ctx context.Context, compID, discID int64) ([]domain.LeaderboardRow, error) {
	v, err, _ := s.group.Do(fmt.Sprintf("lb:%d:%d", compID, discID), func() (any, error) {
		unlock, err := s.locks.lock(ctx, compID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		var (
			rows  []domain.LeaderboardRow
			stale []string
		)
		err = s.deps.Store.Update(ctx, func(tx ports.Tx) error {
			var err error
			if stale, err = renderKeys(tx, compID); err != nil {
				return err
			}
			rows, err = s.recalculateDiscipline(ctx, tx, compID, discID)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.deps.invalidate(ctx, stale...)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.LeaderboardRow), nil
}

// RecalculateOverall rebuilds and stores the overall standing.
func (s *ScoringService) RecalculateOverall(ctx context.Context, code string) ([]domain.OverallRow, error) {
	compID, err := s.competitionID(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.recalculateOverallByID(ctx, compID)
}

func (s *ScoringService) recalculateOverallByID(ctx context.Context, compID int64) ([]domain.OverallRow, error) {
	v, err, _ := s.group.Do(fmt.Sprintf("overall:%d", compID), func() (any, error) {
		unlock, err := s.locks.lock(ctx, compID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		var (
			rows  []domain.OverallRow
			stale []string
		)
		err = s.deps.Store.Update(ctx, func(tx ports.Tx) error {
			var err error
			if stale, err = renderKeys(tx, compID); err != nil {
				return err
			}
			rows, err = s.recalculateOverall(ctx, tx, compID)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.deps.invalidate(ctx, stale...)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.OverallRow), nil
}

// RecalculateCompetition rebuilds every discipline leaderboard of the
// competition and then the overall standing. Disciplines are handed to a
// bounded worker group; their writes still take the competition lock one
// at a time.
func (s *ScoringService) RecalculateCompetition(ctx context.Context, code string) ([]domain.OverallRow, error) {
	var (
		compID int64
		ids    []int64
	)
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		compID = comp.ID
		ids, err = tx.CompetitionDisciplines(comp.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.recalculateDisciplineByID(gctx, compID, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recalculate disciplines: %w", err)
	}

	return s.recalculateOverallByID(ctx, compID)
}

// DisciplineLeaderboard returns the stored leaderboard of a discipline.
func (s *ScoringService) DisciplineLeaderboard(ctx context.Context, code, disciplineCode string) ([]domain.LeaderboardRow, error) {
	var rows []domain.LeaderboardRow
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, disciplineCode)
		if err != nil {
			return err
		}
		rows, err = tx.Leaderboard(comp.ID, d.ID)
		return err
	})
	return rows, err
}

// OverallStanding ranks every registered participant by total points. It
// is computed from the stored discipline leaderboards, so participants who
// registered after the last recalculation still appear with zero points.
func (s *ScoringService) OverallStanding(ctx context.Context, code string) ([]domain.OverallRow, error) {
	var rows []domain.OverallRow
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		rows, err = s.rankOverall(tx, comp.ID)
		return err
	})
	return rows, err
}

// ParticipantResults returns the user's results in every discipline of the
// competition.
func (s *ScoringService) ParticipantResults(ctx context.Context, code string, userID int64) ([]ParticipantResult, error) {
	var out []ParticipantResult
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		participant, err := tx.Participant(comp.ID, userID)
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%w: user %d in %s", ErrNotRegistered, userID, comp.Code)
		}
		if err != nil {
			return err
		}

		results, err := tx.ParticipantResults(comp.ID, participant.ID)
		if err != nil {
			return err
		}
		for _, r := range results {
			d, err := s.deps.Catalog.Discipline(ctx, r.DisciplineID)
			if err != nil {
				return err
			}
			out = append(out, ParticipantResult{Discipline: d, Result: r})
		}
		return nil
	})
	return out, err
}

// ParticipantPosition returns the user's row in a discipline leaderboard.
// A row with Position 0 means the user's average is DNF. Users without a
// result yield ports.ErrNotFound.
func (s *ScoringService) ParticipantPosition(ctx context.Context, code, disciplineCode string, userID int64) (domain.LeaderboardRow, error) {
	rows, err := s.DisciplineLeaderboard(ctx, code, disciplineCode)
	if err != nil {
		return domain.LeaderboardRow{}, err
	}
	for _, r := range rows {
		if r.UserID == userID {
			return r, nil
		}
	}
	return domain.LeaderboardRow{}, ports.NewStoreError("leaderboard", fmt.Sprint(userID), "get", ports.ErrNotFound)
}

// RenderDisciplineLeaderboard returns the text rendering of a discipline
// leaderboard, served from the cache when possible.
func (s *ScoringService) RenderDisciplineLeaderboard(ctx context.Context, code, disciplineCode string) (string, error) {
	var (
		key  string
		text string
	)
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, disciplineCode)
		if err != nil {
			return err
		}

		rev, err := tx.RenderRevision(comp.ID)
		if err != nil {
			return err
		}
		key = leaderboardCacheKey(comp.ID, d.ID, rev)
		if cached, ok := s.cached(ctx, key); ok {
			text = cached
			key = ""
			return nil
		}

		rows, err := tx.Leaderboard(comp.ID, d.ID)
		if err != nil {
			return err
		}
		names, err := participantNames(tx, leaderboardUsers(rows))
		if err != nil {
			return err
		}
		text = FormatLeaderboard(d, rows, names)
		return nil
	})
	if err != nil {
		return "", err
	}

	s.store(ctx, key, text)
	return text, nil
}

// RenderOverallStanding returns the text rendering of the overall standing,
// served from the cache when possible.
func (s *ScoringService) RenderOverallStanding(ctx context.Context, code string) (string, error) {
	var (
		key  string
		text string
	)
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}

		rev, err := tx.RenderRevision(comp.ID)
		if err != nil {
			return err
		}
		key = overallCacheKey(comp.ID, rev)
		if cached, ok := s.cached(ctx, key); ok {
			text = cached
			key = ""
			return nil
		}

		rows, err := s.rankOverall(tx, comp.ID)
		if err != nil {
			return err
		}
		users := make([]int64, len(rows))
		for i, r := range rows {
			users[i] = r.UserID
		}
		names, err := participantNames(tx, users)
		if err != nil {
			return err
		}
		text = FormatOverall(rows, names)
		return nil
	})
	if err != nil {
		return "", err
	}

	s.store(ctx, key, text)
	return text, nil
}

// RenderParticipantResults returns the text rendering of a user's results.
func (s *ScoringService) RenderParticipantResults(ctx context.Context, code string, userID int64) (string, error) {
	results, err := s.ParticipantResults(ctx, code, userID)
	if err != nil {
		return "", err
	}
	return FormatParticipantResults(results), nil
}

// recalculateDiscipline ranks the stored results of one discipline and
// replaces its leaderboard within tx.
func (s *ScoringService) recalculateDiscipline(ctx context.Context, tx ports.Tx, compID, discID int64) (rows []domain.LeaderboardRow, err error) {
	done := s.observe(ctx, ports.RecalcScope{CompetitionID: compID, DisciplineID: discID})
	defer func() { done(len(rows), err) }()

	results, err := tx.Results(compID, discID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.DisciplineEntry, len(results))
	for i, r := range results {
		entries[i] = r.Entry()
	}

	rows = domain.RankDiscipline(compID, discID, entries)
	now := s.deps.Clock()
	for i := range rows {
		rows[i].CalculatedAt = now
	}
	if err := tx.ReplaceLeaderboard(compID, discID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// recalculateOverall ranks participants by points and replaces the stored
// overall standing within tx.
func (s *ScoringService) recalculateOverall(ctx context.Context, tx ports.Tx, compID int64) (rows []domain.OverallRow, err error) {
	done := s.observe(ctx, ports.RecalcScope{CompetitionID: compID})
	defer func() { done(len(rows), err) }()

	rows, err = s.rankOverall(tx, compID)
	if err != nil {
		return nil, err
	}
	if err := tx.ReplaceOverall(compID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ScoringService) rankOverall(tx ports.Tx, compID int64) ([]domain.OverallRow, error) {
	participants, err := tx.Participants(compID)
	if err != nil {
		return nil, err
	}
	users := make([]int64, len(participants))
	for i, p := range participants {
		users[i] = p.UserID
	}

	lb, err := tx.CompetitionLeaderboards(compID)
	if err != nil {
		return nil, err
	}

	rows := domain.RankOverall(compID, users, lb)
	now := s.deps.Clock()
	for i := range rows {
		rows[i].CalculatedAt = now
	}
	return rows, nil
}

// competitionID resolves a competition code outside of any write.
func (s *ScoringService) competitionID(ctx context.Context, code string) (int64, error) {
	var id int64
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		id = comp.ID
		return err
	})
	return id, err
}

func (s *ScoringService) observe(ctx context.Context, scope ports.RecalcScope) func(int, error) {
	if s.deps.Observer == nil {
		return func(int, error) {}
	}
	_, done := s.deps.Observer.Start(ctx, scope)
	return done
}

// cached looks key up in the cache. Cache failures count as misses.
func (s *ScoringService) cached(ctx context.Context, key string) (string, bool) {
	if s.deps.Cache == nil {
		return "", false
	}
	val, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		ok = false
	}
	if ok && !utf8.Valid(val) {
		s.logger.Warn().Err(ports.ErrCacheCorrupted).Str("key", key).Msg("dropping cached rendering")
		s.deps.invalidate(ctx, key)
		ok = false
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	s.deps.count(metricCacheLookups, map[string]string{"result": result})
	return string(val), ok
}

// store caches a rendering. An empty key means nothing to store.
func (s *ScoringService) store(ctx context.Context, key, text string) {
	if s.deps.Cache == nil || key == "" {
		return
	}
	if err := s.deps.Cache.Set(ctx, key, []byte(text), s.opts.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func leaderboardUsers(rows []domain.LeaderboardRow) []int64 {
	users := make([]int64, len(rows))
	for i, r := range rows {
		users[i] = r.UserID
	}
	return users
}

// participantNames loads display names for users. Unknown users are
// rendered by id.
func participantNames(tx ports.Tx, users []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(users))
	for _, id := range users {
		u, err := tx.User(id)
		if errors.Is(err, ports.ErrNotFound) {
			names[id] = fmt.Sprintf("#%d", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		names[id] = DisplayName(u)
	}
	return names, nil
}
