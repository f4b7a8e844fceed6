package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// Competition code shape: eight characters from [A-Z0-9].
const (
	competitionCodeLength   = 8
	competitionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts         = 16
)

// RegisterUserRequest carries the identity of a chat user.
type RegisterUserRequest struct {
	ChatID    int64           `json:"chat_id" validate:"required"`
	Username  string          `json:"username" validate:"max=64"`
	FirstName string          `json:"first_name" validate:"max=128"`
	LastName  string          `json:"last_name" validate:"max=128"`
	Role      domain.UserRole `json:"role" validate:"omitempty,oneof=participant organizer admin"`
}

// CreateCompetitionRequest describes a new competition.
type CreateCompetitionRequest struct {
	OrganizerID     int64    `json:"organizer_id" validate:"required"`
	Name            string   `json:"name" validate:"required,max=200"`
	DisciplineCodes []string `json:"disciplines" validate:"dive,required"`
}

// UploadScrambleRequest carries one scramble photo.
type UploadScrambleRequest struct {
	CompetitionCode string
	DisciplineCode  string
	AttemptNumber   int
	ActorID         int64
	ContentType     string
	Photo           []byte
}

// CompetitionDetails is a competition with its disciplines and participant
// count.
type CompetitionDetails struct {
	Competition  domain.Competition  `json:"competition"`
	Disciplines  []domain.Discipline `json:"disciplines"`
	Participants int                 `json:"participants"`
}

// AddDisciplinesResult reports which requested disciplines were attached and
// which were already part of the competition.
type AddDisciplinesResult struct {
	Added   []domain.Discipline `json:"added"`
	Skipped []domain.Discipline `json:"skipped"`
}

// CompetitionService manages users, competitions, registrations and
// scrambles.
type CompetitionService struct {
	deps      Dependencies
	logger    zerolog.Logger
	newCode   func() string
	newFileID func() string
}

// NewCompetitionService creates a CompetitionService.
func NewCompetitionService(deps Dependencies) (*CompetitionService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &CompetitionService{
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "competition_service").Logger(),
		newCode:   randomCompetitionCode,
		newFileID: func() string { return ksuid.New().String() },
	}, nil
}

// RegisterUser creates or updates the user identified by ChatID. An empty
// role keeps the existing role, or makes a new user a participant.
func (s *CompetitionService) RegisterUser(ctx context.Context, req RegisterUserRequest) (domain.User, error) {
	if req.ChatID == 0 {
		return domain.User{}, fmt.Errorf("%w: chat id is required", ErrInvalidRequest)
	}

	var (
		user  domain.User
		stale []string
	)
	err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		stale = nil
		now := s.deps.Clock()
		existing, err := tx.UserByChatID(req.ChatID)
		created := false
		switch {
		case err == nil:
			user = existing
		case errors.Is(err, ports.ErrNotFound):
			user = domain.User{ChatID: req.ChatID, Role: domain.RoleParticipant, CreatedAt: now}
			created = true
		default:
			return err
		}

		oldName := DisplayName(user)
		user.Username = req.Username
		user.FirstName = req.FirstName
		user.LastName = req.LastName
		if req.Role != "" {
			user.Role = req.Role
		}
		user.UpdatedAt = now
		if err := tx.SaveUser(&user); err != nil {
			return err
		}

		if created || DisplayName(user) == oldName {
			return nil
		}
		stale, err = s.touchUserCompetitions(tx, user.ID)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}

	s.deps.invalidate(ctx, stale...)
	return user, nil
}

// touchUserCompetitions advances the render revision of every competition
// the user is registered in, since renderings show participant names. It
// returns the cache keys the change makes obsolete.
func (s *CompetitionService) touchUserCompetitions(tx ports.Tx, userID int64) ([]string, error) {
	comps, err := tx.UserCompetitions(userID)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, id := range comps {
		keys, err := renderKeys(tx, id)
		if err != nil {
			return nil, err
		}
		stale = append(stale, keys...)
		if err := tx.TouchRenderRevision(id); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// CreateCompetition creates an active competition with a fresh code and
// attaches the requested disciplines. Every code must be known. A
// participant creating a competition becomes an organizer.
func (s *CompetitionService) CreateCompetition(ctx context.Context, req CreateCompetitionRequest) (domain.Competition, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Competition{}, fmt.Errorf("%w: competition name is required", ErrInvalidRequest)
	}

	disciplines, err := s.resolveDisciplines(ctx, req.DisciplineCodes)
	if err != nil {
		return domain.Competition{}, err
	}

	for range maxCodeAttempts {
		comp := domain.Competition{
			Name:        name,
			Code:        s.newCode(),
			OrganizerID: req.OrganizerID,
			Status:      domain.StatusActive,
			CreatedAt:   s.deps.Clock(),
		}

		err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
			organizer, err := tx.User(req.OrganizerID)
			if err != nil {
				return err
			}
			if organizer.Role == domain.RoleParticipant {
				organizer.Role = domain.RoleOrganizer
				organizer.UpdatedAt = comp.CreatedAt
				if err := tx.SaveUser(&organizer); err != nil {
					return err
				}
			}

			if err := tx.SaveCompetition(&comp); err != nil {
				return err
			}
			for _, d := range disciplines {
				if err := tx.AttachDiscipline(comp.ID, d.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, ports.ErrConflict) {
			s.logger.Debug().Str("code", comp.Code).Msg("competition code collision, regenerating")
			continue
		}
		if err != nil {
			return domain.Competition{}, err
		}

		s.logger.Info().
			Int64("competition_id", comp.ID).
			Str("code", comp.Code).
			Int("disciplines", len(disciplines)).
			Msg("competition created")
		s.deps.count(metricCompetitionsCreated, nil)
		return comp, nil
	}

	return domain.Competition{}, fmt.Errorf("%w: could not allocate a unique competition code", ports.ErrConflict)
}

// AddDisciplines attaches disciplines to an open competition. Disciplines
// already attached are reported as skipped.
func (s *CompetitionService) AddDisciplines(ctx context.Context, code string, actorID int64, codes []string) (AddDisciplinesResult, error) {
	disciplines, err := s.resolveDisciplines(ctx, codes)
	if err != nil {
		return AddDisciplinesResult{}, err
	}
	if len(disciplines) == 0 {
		return AddDisciplinesResult{}, fmt.Errorf("%w: no disciplines given", ErrInvalidRequest)
	}

	var out AddDisciplinesResult
	err = s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		out = AddDisciplinesResult{}
		comp, err := s.managedCompetition(tx, code, actorID)
		if err != nil {
			return err
		}
		if !comp.AcceptsResults() {
			return ErrCompetitionClosed
		}

		existing, err := tx.CompetitionDisciplines(comp.ID)
		if err != nil {
			return err
		}
		for _, d := range disciplines {
			if slices.Contains(existing, d.ID) {
				out.Skipped = append(out.Skipped, d)
				continue
			}
			if err := tx.AttachDiscipline(comp.ID, d.ID); err != nil {
				return err
			}
			existing = append(existing, d.ID)
			out.Added = append(out.Added, d)
		}
		return nil
	})
	if err != nil {
		return AddDisciplinesResult{}, err
	}
	return out, nil
}

// GetCompetition returns a competition by code with its disciplines.
func (s *CompetitionService) GetCompetition(ctx context.Context, code string) (CompetitionDetails, error) {
	var out CompetitionDetails
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		ids, err := tx.CompetitionDisciplines(comp.ID)
		if err != nil {
			return err
		}
		participants, err := tx.Participants(comp.ID)
		if err != nil {
			return err
		}

		out = CompetitionDetails{Competition: comp, Participants: len(participants)}
		for _, id := range ids {
			d, err := s.deps.Catalog.Discipline(ctx, id)
			if err != nil {
				return err
			}
			out.Disciplines = append(out.Disciplines, d)
		}
		return nil
	})
	return out, err
}

// ListByOrganizer returns the organizer's competitions, newest first.
func (s *CompetitionService) ListByOrganizer(ctx context.Context, organizerID int64) ([]domain.Competition, error) {
	var out []domain.Competition
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.CompetitionsByOrganizer(organizerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b domain.Competition) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// RegisterParticipant registers userID for the competition. Registering
// twice fails with ports.ErrConflict.
func (s *CompetitionService) RegisterParticipant(ctx context.Context, code string, userID int64) (domain.Participant, error) {
	var (
		p     domain.Participant
		stale []string
	)
	err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		if !comp.AcceptsResults() {
			return ErrCompetitionClosed
		}
		if _, err := tx.User(userID); err != nil {
			return err
		}

		p = domain.Participant{CompetitionID: comp.ID, UserID: userID, RegisteredAt: s.deps.Clock()}
		if err := tx.SaveParticipant(&p); err != nil {
			return err
		}
		if stale, err = renderKeys(tx, comp.ID); err != nil {
			return err
		}
		return tx.TouchRenderRevision(comp.ID)
	})
	if err != nil {
		return domain.Participant{}, err
	}

	s.deps.invalidate(ctx, stale...)
	s.logger.Info().Int64("competition_id", p.CompetitionID).Int64("user_id", userID).Msg("participant registered")
	return p, nil
}

// CompleteCompetition closes a competition to further results. Only its
// organizer or an admin may complete it.
func (s *CompetitionService) CompleteCompetition(ctx context.Context, code string, actorID int64) (domain.Competition, error) {
	var comp domain.Competition
	err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		var err error
		comp, err = s.managedCompetition(tx, code, actorID)
		if err != nil {
			return err
		}
		comp.Status = domain.StatusCompleted
		return tx.SaveCompetition(&comp)
	})
	if err != nil {
		return domain.Competition{}, err
	}
	s.logger.Info().Str("code", comp.Code).Msg("competition completed")
	return comp, nil
}

// DeleteCompetition removes a competition and everything that belongs to
// it: standings, leaderboards, results, scrambles with their photos,
// participants and discipline links.
func (s *CompetitionService) DeleteCompetition(ctx context.Context, code string, actorID int64) error {
	var (
		comp  domain.Competition
		stale []string
	)
	err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		var err error
		comp, err = s.managedCompetition(tx, code, actorID)
		if err != nil {
			return err
		}
		stale, err = renderKeys(tx, comp.ID)
		if err != nil {
			return err
		}

		steps := []func(int64) error{
			tx.DeleteLeaderboards,
			tx.DeleteResults,
			tx.DeleteScrambles,
			tx.DeleteParticipants,
			tx.DetachDisciplines,
			tx.DeleteCompetition,
		}
		for _, step := range steps {
			if err := step(comp.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.deps.invalidate(ctx, stale...)

	s.logger.Info().Int64("competition_id", comp.ID).Str("code", comp.Code).Msg("competition deleted")
	return nil
}

// UploadScramble stores the scramble photo for one attempt, replacing any
// earlier photo for the same attempt.
func (s *CompetitionService) UploadScramble(ctx context.Context, req UploadScrambleRequest) (domain.Scramble, error) {
	if len(req.Photo) == 0 {
		return domain.Scramble{}, fmt.Errorf("%w: empty photo", ErrInvalidRequest)
	}

	var sc domain.Scramble
	err := s.deps.Store.Update(ctx, func(tx ports.Tx) error {
		comp, err := s.managedCompetition(tx, req.CompetitionCode, req.ActorID)
		if err != nil {
			return err
		}
		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, req.DisciplineCode)
		if err != nil {
			return err
		}
		if req.AttemptNumber < 1 || req.AttemptNumber > d.Rule.AttemptCount {
			return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidAttemptNumber, req.AttemptNumber, d.Rule.AttemptCount)
		}

		sc = domain.Scramble{
			CompetitionID: comp.ID,
			DisciplineID:  d.ID,
			AttemptNumber: req.AttemptNumber,
			FileID:        s.newFileID(),
			ContentType:   req.ContentType,
			UploadedAt:    s.deps.Clock(),
		}
		return tx.PutScramble(sc, req.Photo)
	})
	if err != nil {
		return domain.Scramble{}, err
	}
	return sc, nil
}

// ListScrambles returns the scrambles of one discipline of a competition in
// attempt order.
func (s *CompetitionService) ListScrambles(ctx context.Context, code, disciplineCode string) ([]domain.Scramble, error) {
	var out []domain.Scramble
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		comp, err := competitionByCode(tx, code)
		if err != nil {
			return err
		}
		d, err := attachedDiscipline(ctx, tx, s.deps.Catalog, comp.ID, disciplineCode)
		if err != nil {
			return err
		}
		out, err = tx.Scrambles(comp.ID, d.ID)
		return err
	})
	return out, err
}

// ScramblePhoto returns the photo bytes stored under fileID.
func (s *CompetitionService) ScramblePhoto(ctx context.Context, fileID string) ([]byte, error) {
	if _, err := ksuid.Parse(fileID); err != nil {
		return nil, fmt.Errorf("%w: malformed file id", ErrInvalidRequest)
	}

	var photo []byte
	err := s.deps.Store.View(ctx, func(tx ports.Tx) error {
		var err error
		photo, err = tx.ScramblePhoto(fileID)
		return err
	})
	return photo, err
}

// managedCompetition loads a competition the actor may manage.
func (s *CompetitionService) managedCompetition(tx ports.Tx, code string, actorID int64) (domain.Competition, error) {
	comp, err := competitionByCode(tx, code)
	if err != nil {
		return domain.Competition{}, err
	}
	if comp.OrganizerID == actorID {
		return comp, nil
	}

	actor, err := tx.User(actorID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return domain.Competition{}, err
	}
	if err == nil && actor.Role == domain.RoleAdmin {
		return comp, nil
	}
	return domain.Competition{}, fmt.Errorf("%w: user %d does not manage competition %s", ErrForbidden, actorID, comp.Code)
}

// resolveDisciplines maps codes to catalog disciplines, dropping repeats.
// Every unknown code is reported in one validation error.
func (s *CompetitionService) resolveDisciplines(ctx context.Context, codes []string) ([]domain.Discipline, error) {
	verr := domain.NewValidationError("disciplines")
	verr.Err = ErrUnknownDiscipline

	var out []domain.Discipline
	seen := make(map[int64]bool)
	for _, code := range codes {
		if strings.TrimSpace(code) == "" {
			continue
		}
		d, err := s.deps.Catalog.DisciplineByCode(ctx, code)
		if err != nil {
			verr.AddError(err.Error())
			continue
		}
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return out, nil
}

func randomCompetitionCode() string {
	b := make([]byte, competitionCodeLength)
	for i := range b {
		b[i] = competitionCodeAlphabet[rand.IntN(len(competitionCodeAlphabet))]
	}
	return string(b)
}
