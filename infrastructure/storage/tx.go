package storage

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

var _ ports.Tx = (*badgerTx)(nil)

// Key spaces.
const (
	nsUser        = "user"
	nsUserChat    = "user_chat"
	nsComp        = "comp"
	nsCompCode    = "comp_code"
	nsCompOrg     = "comp_org"
	nsCompDisc    = "comp_disc"
	nsDisc        = "disc"
	nsDiscCode    = "disc_code"
	nsParticipant = "part"
	nsUserPart    = "part_user"
	nsResult      = "result"
	nsLeaderboard = "lb"
	nsOverall     = "overall"
	nsRevision    = "rev"
	nsRender      = "render"
	nsScramble    = "scramble"
	nsPhoto       = "photo"
)

// badgerTx binds the repositories to one Badger transaction.
type badgerTx struct {
	txn   *badger.Txn
	store *BadgerStore
}

// Users.

func (t *badgerTx) UserByChatID(chatID int64) (domain.User, error) {
	id, err := get[int64](t.txn, "user", key(nsUserChat, chatID))
	if err != nil {
		return domain.User{}, err
	}
	return t.User(id)
}

func (t *badgerTx) User(id int64) (domain.User, error) {
	return get[domain.User](t.txn, "user", key(nsUser, id))
}

func (t *badgerTx) SaveUser(u *domain.User) error {
	if u.ID == 0 {
		id, err := t.store.nextID(seqUser)
		if err != nil {
			return err
		}
		u.ID = id
	}
	if err := put(t.txn, key(nsUser, u.ID), u); err != nil {
		return ports.NewStoreError("user", fmt.Sprint(u.ID), "put", err)
	}
	return put(t.txn, key(nsUserChat, u.ChatID), u.ID)
}

// Competitions.

func (t *badgerTx) Competition(id int64) (domain.Competition, error) {
	return get[domain.Competition](t.txn, "competition", key(nsComp, id))
}

func (t *badgerTx) CompetitionByCode(code string) (domain.Competition, error) {
	id, err := get[int64](t.txn, "competition", key(nsCompCode, code))
	if err != nil {
		return domain.Competition{}, err
	}
	return t.Competition(id)
}

func (t *badgerTx) CompetitionsByOrganizer(organizerID int64) ([]domain.Competition, error) {
	var out []domain.Competition
	for _, k := range listKeys(t.txn, prefix(nsCompOrg, organizerID)) {
		id, err := lastID(k)
		if err != nil {
			return nil, ports.NewStoreError("competition", string(k), "scan", err)
		}
		c, err := t.Competition(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *badgerTx) SaveCompetition(c *domain.Competition) error {
	owner, err := get[int64](t.txn, "competition", key(nsCompCode, c.Code))
	switch {
	case err == nil && owner != c.ID:
		return ports.NewStoreError("competition", c.Code, "put", ports.ErrConflict)
	case err != nil && !errors.Is(err, ports.ErrNotFound):
		return err
	}

	if c.ID == 0 {
		id, err := t.store.nextID(seqCompetition)
		if err != nil {
			return err
		}
		c.ID = id
	}

	if err := put(t.txn, key(nsComp, c.ID), c); err != nil {
		return ports.NewStoreError("competition", fmt.Sprint(c.ID), "put", err)
	}
	if err := put(t.txn, key(nsCompCode, c.Code), c.ID); err != nil {
		return err
	}
	return t.txn.Set(key(nsCompOrg, c.OrganizerID, c.ID), nil)
}

func (t *badgerTx) DeleteCompetition(id int64) error {
	c, err := t.Competition(id)
	if err != nil {
		return err
	}
	for _, k := range [][]byte{key(nsComp, id), key(nsCompCode, c.Code), key(nsCompOrg, c.OrganizerID, id)} {
		if err := t.txn.Delete(k); err != nil {
			return ports.NewStoreError("competition", string(k), "delete", err)
		}
	}
	return nil
}

func (t *badgerTx) AttachDiscipline(competitionID, disciplineID int64) error {
	return t.txn.Set(key(nsCompDisc, competitionID, disciplineID), nil)
}

func (t *badgerTx) CompetitionDisciplines(competitionID int64) ([]int64, error) {
	var ids []int64
	for _, k := range listKeys(t.txn, prefix(nsCompDisc, competitionID)) {
		id, err := lastID(k)
		if err != nil {
			return nil, ports.NewStoreError("competition_discipline", string(k), "scan", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *badgerTx) DetachDisciplines(competitionID int64) error {
	return deletePrefix(t.txn, prefix(nsCompDisc, competitionID))
}

// Disciplines.

func (t *badgerTx) Discipline(id int64) (domain.Discipline, error) {
	return get[domain.Discipline](t.txn, "discipline", key(nsDisc, id))
}

func (t *badgerTx) DisciplineByCode(code string) (domain.Discipline, error) {
	id, err := get[int64](t.txn, "discipline", key(nsDiscCode, strings.ToLower(code)))
	if err != nil {
		return domain.Discipline{}, err
	}
	return t.Discipline(id)
}

func (t *badgerTx) Disciplines() ([]domain.Discipline, error) {
	return list[domain.Discipline](t.txn, "discipline", prefix(nsDisc))
}

func (t *badgerTx) SaveDiscipline(d *domain.Discipline) error {
	if d.ID == 0 {
		id, err := t.store.nextID(seqDiscipline)
		if err != nil {
			return err
		}
		d.ID = id
	}
	if err := put(t.txn, key(nsDisc, d.ID), d); err != nil {
		return ports.NewStoreError("discipline", fmt.Sprint(d.ID), "put", err)
	}
	return put(t.txn, key(nsDiscCode, strings.ToLower(d.Code)), d.ID)
}

// Participants.

func (t *badgerTx) Participant(competitionID, userID int64) (domain.Participant, error) {
	return get[domain.Participant](t.txn, "participant", key(nsParticipant, competitionID, userID))
}

func (t *badgerTx) Participants(competitionID int64) ([]domain.Participant, error) {
	ps, err := list[domain.Participant](t.txn, "participant", prefix(nsParticipant, competitionID))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(ps, func(a, b domain.Participant) int { return cmp.Compare(a.ID, b.ID) })
	return ps, nil
}

func (t *badgerTx) SaveParticipant(p *domain.Participant) error {
	k := key(nsParticipant, p.CompetitionID, p.UserID)
	found, err := exists(t.txn, k)
	if err != nil {
		return ports.NewStoreError("participant", string(k), "get", err)
	}
	if found {
		return ports.NewStoreError("participant", string(k), "put", ports.ErrConflict)
	}

	id, err := t.store.nextID(seqParticipant)
	if err != nil {
		return err
	}
	p.ID = id
	if err := put(t.txn, k, p); err != nil {
		return ports.NewStoreError("participant", string(k), "put", err)
	}
	return put(t.txn, key(nsUserPart, p.UserID, p.CompetitionID), p.CompetitionID)
}

func (t *badgerTx) UserCompetitions(userID int64) ([]int64, error) {
	return list[int64](t.txn, "participant", prefix(nsUserPart, userID))
}

func (t *badgerTx) DeleteParticipants(competitionID int64) error {
	ps, err := list[domain.Participant](t.txn, "participant", prefix(nsParticipant, competitionID))
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := t.txn.Delete(key(nsUserPart, p.UserID, competitionID)); err != nil {
			return ports.NewStoreError("participant", fmt.Sprint(p.UserID), "delete", err)
		}
	}
	return deletePrefix(t.txn, prefix(nsParticipant, competitionID))
}

// Results.

func (t *badgerTx) Result(competitionID, disciplineID, participantID int64) (domain.Result, error) {
	return get[domain.Result](t.txn, "result", key(nsResult, competitionID, disciplineID, participantID))
}

func (t *badgerTx) Results(competitionID, disciplineID int64) ([]domain.Result, error) {
	return list[domain.Result](t.txn, "result", prefix(nsResult, competitionID, disciplineID))
}

func (t *badgerTx) ParticipantResults(competitionID, participantID int64) ([]domain.Result, error) {
	all, err := list[domain.Result](t.txn, "result", prefix(nsResult, competitionID))
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(r domain.Result) bool { return r.ParticipantID != participantID }), nil
}

func (t *badgerTx) PutResult(r domain.Result) error {
	k := key(nsResult, r.CompetitionID, r.DisciplineID, r.ParticipantID)
	if err := put(t.txn, k, r); err != nil {
		return ports.NewStoreError("result", string(k), "put", err)
	}
	return nil
}

func (t *badgerTx) DeleteResults(competitionID int64) error {
	return deletePrefix(t.txn, prefix(nsResult, competitionID))
}

// Leaderboards. Rows are keyed by their index in the computed order so a
// listing returns them exactly as they were ranked.

func (t *badgerTx) Leaderboard(competitionID, disciplineID int64) ([]domain.LeaderboardRow, error) {
	return list[domain.LeaderboardRow](t.txn, "leaderboard", prefix(nsLeaderboard, competitionID, disciplineID))
}

func (t *badgerTx) CompetitionLeaderboards(competitionID int64) ([]domain.LeaderboardRow, error) {
	return list[domain.LeaderboardRow](t.txn, "leaderboard", prefix(nsLeaderboard, competitionID))
}

func (t *badgerTx) ReplaceLeaderboard(competitionID, disciplineID int64, rows []domain.LeaderboardRow) error {
	p := prefix(nsLeaderboard, competitionID, disciplineID)
	if err := t.bumpRevision(nsLeaderboard, competitionID, disciplineID); err != nil {
		return err
	}
	if err := t.TouchRenderRevision(competitionID); err != nil {
		return err
	}
	if err := deletePrefix(t.txn, p); err != nil {
		return ports.NewStoreError("leaderboard", string(p), "delete", err)
	}
	for i, row := range rows {
		if err := put(t.txn, key(nsLeaderboard, competitionID, disciplineID, i), row); err != nil {
			return ports.NewStoreError("leaderboard", string(p), "put", err)
		}
	}
	return nil
}

func (t *badgerTx) Overall(competitionID int64) ([]domain.OverallRow, error) {
	return list[domain.OverallRow](t.txn, "overall", prefix(nsOverall, competitionID))
}

func (t *badgerTx) ReplaceOverall(competitionID int64, rows []domain.OverallRow) error {
	p := prefix(nsOverall, competitionID)
	if err := t.bumpRevision(nsOverall, competitionID); err != nil {
		return err
	}
	if err := t.TouchRenderRevision(competitionID); err != nil {
		return err
	}
	if err := deletePrefix(t.txn, p); err != nil {
		return ports.NewStoreError("overall", string(p), "delete", err)
	}
	for i, row := range rows {
		if err := put(t.txn, key(nsOverall, competitionID, i), row); err != nil {
			return ports.NewStoreError("overall", string(p), "put", err)
		}
	}
	return nil
}

func (t *badgerTx) DeleteLeaderboards(competitionID int64) error {
	prefixes := [][]byte{
		prefix(nsLeaderboard, competitionID),
		prefix(nsOverall, competitionID),
		prefix(nsRevision, nsLeaderboard, competitionID),
	}
	for _, p := range prefixes {
		if err := deletePrefix(t.txn, p); err != nil {
			return ports.NewStoreError("leaderboard", string(p), "delete", err)
		}
	}
	if err := t.txn.Delete(key(nsRevision, nsOverall, competitionID)); err != nil {
		return err
	}
	return t.txn.Delete(key(nsRevision, nsRender, competitionID))
}

func (t *badgerTx) RenderRevision(competitionID int64) (int64, error) {
	rev, err := get[int64](t.txn, "revision", key(nsRevision, nsRender, competitionID))
	if errors.Is(err, ports.ErrNotFound) {
		return 0, nil
	}
	return rev, err
}

func (t *badgerTx) TouchRenderRevision(competitionID int64) error {
	return t.bumpRevision(nsRender, competitionID)
}

// bumpRevision reads and rewrites a per-table revision counter. Two
// transactions replacing the same table therefore always conflict, even when
// the table was empty and neither saw a row of the other.
func (t *badgerTx) bumpRevision(parts ...any) error {
	k := key(append([]any{nsRevision}, parts...)...)
	rev, err := get[int64](t.txn, "revision", k)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	return put(t.txn, k, rev+1)
}

// Scrambles.

func (t *badgerTx) PutScramble(s domain.Scramble, photo []byte) error {
	k := key(nsScramble, s.CompetitionID, s.DisciplineID, s.AttemptNumber)
	old, err := get[domain.Scramble](t.txn, "scramble", k)
	switch {
	case err == nil && old.FileID != s.FileID:
		if err := t.txn.Delete(key(nsPhoto, old.FileID)); err != nil {
			return ports.NewStoreError("photo", old.FileID, "delete", err)
		}
	case err != nil && !errors.Is(err, ports.ErrNotFound):
		return err
	}

	if err := t.txn.Set(key(nsPhoto, s.FileID), photo); err != nil {
		return ports.NewStoreError("photo", s.FileID, "put", err)
	}
	return put(t.txn, k, s)
}

func (t *badgerTx) Scrambles(competitionID, disciplineID int64) ([]domain.Scramble, error) {
	return list[domain.Scramble](t.txn, "scramble", prefix(nsScramble, competitionID, disciplineID))
}

func (t *badgerTx) ScramblePhoto(fileID string) ([]byte, error) {
	item, err := t.txn.Get(key(nsPhoto, fileID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ports.NewStoreError("photo", fileID, "get", ports.ErrNotFound)
	}
	if err != nil {
		return nil, ports.NewStoreError("photo", fileID, "get", err)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTx) DeleteScrambles(competitionID int64) error {
	p := prefix(nsScramble, competitionID)
	scrambles, err := list[domain.Scramble](t.txn, "scramble", p)
	if err != nil {
		return err
	}
	for _, s := range scrambles {
		if err := t.txn.Delete(key(nsPhoto, s.FileID)); err != nil {
			return ports.NewStoreError("photo", s.FileID, "delete", err)
		}
	}
	return deletePrefix(t.txn, p)
}
