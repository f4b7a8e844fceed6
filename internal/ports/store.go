package ports

import (
	"context"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

// Store provides transactional access to persisted entities. Every call to
// Update runs fn in a single serializable transaction: either all writes
// made through tx are committed or none are. Implementations may retry fn
// on write conflicts, so fn must not have side effects outside tx.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying resources.
	Close() error
}

// Tx groups the repositories available inside a transaction.
type Tx interface {
	UserRepository
	CompetitionRepository
	DisciplineRepository
	ParticipantRepository
	ResultRepository
	LeaderboardRepository
	ScrambleRepository
}

// UserRepository persists users.
type UserRepository interface {
	// UserByChatID returns ErrNotFound when no user has the chat id.
	UserByChatID(chatID int64) (domain.User, error)
	User(id int64) (domain.User, error)
	// SaveUser inserts the user when its ID is zero and updates it otherwise.
	SaveUser(u *domain.User) error
}

// CompetitionRepository persists competitions and their discipline links.
type CompetitionRepository interface {
	Competition(id int64) (domain.Competition, error)
	CompetitionByCode(code string) (domain.Competition, error)
	CompetitionsByOrganizer(organizerID int64) ([]domain.Competition, error)
	// SaveCompetition inserts when ID is zero, updates otherwise. It returns
	// ErrConflict when the code is already taken by another competition.
	SaveCompetition(c *domain.Competition) error
	DeleteCompetition(id int64) error

	// AttachDiscipline is a no-op when the link already exists.
	AttachDiscipline(competitionID, disciplineID int64) error
	CompetitionDisciplines(competitionID int64) ([]int64, error)
	DetachDisciplines(competitionID int64) error
}

// DisciplineRepository persists the discipline catalog.
type DisciplineRepository interface {
	Discipline(id int64) (domain.Discipline, error)
	DisciplineByCode(code string) (domain.Discipline, error)
	Disciplines() ([]domain.Discipline, error)
	// SaveDiscipline inserts when ID is zero, updates otherwise.
	SaveDiscipline(d *domain.Discipline) error
}

// ParticipantRepository persists competition registrations.
type ParticipantRepository interface {
	Participant(competitionID, userID int64) (domain.Participant, error)
	// Participants returns registrations in registration order.
	Participants(competitionID int64) ([]domain.Participant, error)
	// SaveParticipant returns ErrConflict when the user is already registered.
	SaveParticipant(p *domain.Participant) error
	// UserCompetitions returns the ids of the competitions the user is
	// registered in.
	UserCompetitions(userID int64) ([]int64, error)
	DeleteParticipants(competitionID int64) error
}

// ResultRepository persists participant results.
type ResultRepository interface {
	Result(competitionID, disciplineID, participantID int64) (domain.Result, error)
	// Results returns all results of a discipline ordered by participant.
	Results(competitionID, disciplineID int64) ([]domain.Result, error)
	ParticipantResults(competitionID, participantID int64) ([]domain.Result, error)
	// PutResult replaces the stored result for the result's
	// competition, discipline and participant as a whole.
	PutResult(r domain.Result) error
	DeleteResults(competitionID int64) error
}

// LeaderboardRepository persists derived standings. Both Replace methods
// delete every existing row of their scope before writing the new set.
//
// Every competition also carries a render revision. Both Replace methods
// advance it, and callers advance it with TouchRenderRevision whenever
// anything else shown in a rendered standing changes, so two renderings
// made at the same revision are identical.
type LeaderboardRepository interface {
	Leaderboard(competitionID, disciplineID int64) ([]domain.LeaderboardRow, error)
	// CompetitionLeaderboards returns the rows of every discipline.
	CompetitionLeaderboards(competitionID int64) ([]domain.LeaderboardRow, error)
	ReplaceLeaderboard(competitionID, disciplineID int64, rows []domain.LeaderboardRow) error

	Overall(competitionID int64) ([]domain.OverallRow, error)
	ReplaceOverall(competitionID int64, rows []domain.OverallRow) error

	RenderRevision(competitionID int64) (int64, error)
	TouchRenderRevision(competitionID int64) error

	DeleteLeaderboards(competitionID int64) error
}

// ScrambleRepository persists scramble metadata and photos.
type ScrambleRepository interface {
	// PutScramble stores the scramble of its attempt and its photo under
	// s.FileID, removing the photo of any scramble it replaces.
	PutScramble(s domain.Scramble, photo []byte) error
	Scrambles(competitionID, disciplineID int64) ([]domain.Scramble, error)
	ScramblePhoto(fileID string) ([]byte, error)
	// DeleteScrambles removes all scrambles and photos of a competition.
	DeleteScrambles(competitionID int64) error
}
