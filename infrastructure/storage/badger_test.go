package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := domain.User{ChatID: -100, Username: "solver", Role: domain.RoleParticipant}
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.SaveUser(&u) }))
	assert.NotZero(t, u.ID, "id should be assigned on first save")

	err := s.View(ctx, func(tx ports.Tx) error {
		byChat, err := tx.UserByChatID(-100)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byChat.ID)
		assert.Equal(t, "solver", byChat.Username)

		_, err = tx.User(u.ID + 1000)
		assert.True(t, errors.Is(err, ports.ErrNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestBadgerStore_Competitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := domain.Competition{Name: "Spring Open", Code: "ABCD1234", OrganizerID: 7, Status: domain.StatusActive}
	second := domain.Competition{Name: "Summer Open", Code: "WXYZ9876", OrganizerID: 7, Status: domain.StatusActive}
	other := domain.Competition{Name: "Elsewhere", Code: "QQQQ0000", OrganizerID: 8, Status: domain.StatusDraft}

	err := s.Update(ctx, func(tx ports.Tx) error {
		for _, c := range []*domain.Competition{&first, &second, &other} {
			if err := tx.SaveCompetition(c); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	t.Run("lookup by code", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			c, err := tx.CompetitionByCode("WXYZ9876")
			require.NoError(t, err)
			assert.Equal(t, second.ID, c.ID)
			assert.Equal(t, "Summer Open", c.Name)
			return nil
		}))
	})

	t.Run("by organizer", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			cs, err := tx.CompetitionsByOrganizer(7)
			require.NoError(t, err)
			require.Len(t, cs, 2)
			assert.Equal(t, first.ID, cs[0].ID)
			assert.Equal(t, second.ID, cs[1].ID)
			return nil
		}))
	})

	t.Run("duplicate code conflicts", func(t *testing.T) {
		dup := domain.Competition{Name: "Copy", Code: "ABCD1234", OrganizerID: 9}
		err := s.Update(ctx, func(tx ports.Tx) error { return tx.SaveCompetition(&dup) })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrConflict))
	})

	t.Run("resave keeps code", func(t *testing.T) {
		first.Status = domain.StatusCompleted
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.SaveCompetition(&first) }))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			c, err := tx.Competition(first.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, c.Status)
			return nil
		}))
	})

	t.Run("delete removes indexes", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteCompetition(other.ID) }))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			_, err := tx.CompetitionByCode("QQQQ0000")
			assert.True(t, errors.Is(err, ports.ErrNotFound))
			cs, err := tx.CompetitionsByOrganizer(8)
			require.NoError(t, err)
			assert.Empty(t, cs)
			return nil
		}))
	})
}

func TestBadgerStore_DisciplinesAndLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d3 := domain.Discipline{Name: "3x3", Code: "3x3", Rule: domain.DisciplineRule{AttemptCount: 5, Policy: domain.PolicyAverageOf5}}
	d2 := domain.Discipline{Name: "2x2", Code: "2X2", Rule: domain.DisciplineRule{AttemptCount: 5, Policy: domain.PolicyAverageOf5}}

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		if err := tx.SaveDiscipline(&d3); err != nil {
			return err
		}
		if err := tx.SaveDiscipline(&d2); err != nil {
			return err
		}
		if err := tx.AttachDiscipline(1, d2.ID); err != nil {
			return err
		}
		return tx.AttachDiscipline(1, d3.ID)
	}))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		got, err := tx.DisciplineByCode("2x2")
		require.NoError(t, err)
		assert.Equal(t, d2.ID, got.ID)
		assert.Equal(t, domain.PolicyAverageOf5, got.Rule.Policy)

		all, err := tx.Disciplines()
		require.NoError(t, err)
		assert.Len(t, all, 2)

		ids, err := tx.CompetitionDisciplines(1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{d2.ID, d3.ID}, ids)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DetachDisciplines(1) }))
	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		ids, err := tx.CompetitionDisciplines(1)
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	}))
}

func TestBadgerStore_Participants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	users := []int64{30, 10, 20}
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		for _, u := range users {
			if err := tx.SaveParticipant(&domain.Participant{CompetitionID: 1, UserID: u}); err != nil {
				return err
			}
		}
		return nil
	}))

	t.Run("registration order", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			ps, err := tx.Participants(1)
			require.NoError(t, err)
			got := make([]int64, len(ps))
			for i, p := range ps {
				got[i] = p.UserID
			}
			assert.Equal(t, users, got)
			return nil
		}))
	})

	t.Run("user competitions", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
			return tx.SaveParticipant(&domain.Participant{CompetitionID: 2, UserID: 10})
		}))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			ids, err := tx.UserCompetitions(10)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2}, ids)
			ids, err = tx.UserCompetitions(1)
			require.NoError(t, err)
			assert.Empty(t, ids)
			return nil
		}))
	})

	t.Run("duplicate registration", func(t *testing.T) {
		err := s.Update(ctx, func(tx ports.Tx) error {
			return tx.SaveParticipant(&domain.Participant{CompetitionID: 1, UserID: 10})
		})
		assert.True(t, errors.Is(err, ports.ErrConflict))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteParticipants(1) }))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			_, err := tx.Participant(1, 10)
			assert.True(t, errors.Is(err, ports.ErrNotFound))
			ids, err := tx.UserCompetitions(10)
			require.NoError(t, err)
			assert.Equal(t, []int64{2}, ids)
			return nil
		}))
	})
}

func TestBadgerStore_Results(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	results := []domain.Result{
		{CompetitionID: 1, DisciplineID: 1, ParticipantID: 1, UserID: 11, Average: domain.Millis(9000)},
		{CompetitionID: 1, DisciplineID: 1, ParticipantID: 2, UserID: 12, Average: domain.DNFTime},
		{CompetitionID: 1, DisciplineID: 2, ParticipantID: 1, UserID: 11, Average: domain.Millis(4000)},
		{CompetitionID: 2, DisciplineID: 1, ParticipantID: 3, UserID: 13, Average: domain.Millis(1000)},
	}
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		for _, r := range results {
			if err := tx.PutResult(r); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		rs, err := tx.Results(1, 1)
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.True(t, rs[1].Average.DNF)

		mine, err := tx.ParticipantResults(1, 1)
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		r, err := tx.Result(1, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.Millis(4000), r.Average)
		return nil
	}))

	t.Run("overwrite", func(t *testing.T) {
		updated := results[0]
		updated.Average = domain.Millis(8000)
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.PutResult(updated) }))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			r, err := tx.Result(1, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, domain.Millis(8000), r.Average)
			return nil
		}))
	})

	t.Run("delete is scoped to competition", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteResults(1) }))
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			rs, err := tx.Results(1, 1)
			require.NoError(t, err)
			assert.Empty(t, rs)
			rs, err = tx.Results(2, 1)
			require.NoError(t, err)
			assert.Len(t, rs, 1)
			return nil
		}))
	})
}

func TestBadgerStore_ReplaceLeaderboard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rows := make([]domain.LeaderboardRow, 12)
	for i := range rows {
		rows[i] = domain.LeaderboardRow{CompetitionID: 1, DisciplineID: 1, UserID: int64(100 - i), Position: i + 1}
	}
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.ReplaceLeaderboard(1, 1, rows) }))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		got, err := tx.Leaderboard(1, 1)
		require.NoError(t, err)
		require.Len(t, got, 12)
		for i, r := range got {
			assert.Equal(t, rows[i].UserID, r.UserID, "rows keep ranked order")
		}
		return nil
	}))

	shorter := rows[:2]
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		if err := tx.ReplaceLeaderboard(1, 1, shorter); err != nil {
			return err
		}
		return tx.ReplaceLeaderboard(1, 2, rows[:1])
	}))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		got, err := tx.Leaderboard(1, 1)
		require.NoError(t, err)
		assert.Len(t, got, 2, "stale rows must be removed")

		all, err := tx.CompetitionLeaderboards(1)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	}))
}

func TestBadgerStore_RenderRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	revision := func() int64 {
		var rev int64
		require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
			var err error
			rev, err = tx.RenderRevision(1)
			return err
		}))
		return rev
	}

	assert.Zero(t, revision())
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.ReplaceLeaderboard(1, 1, nil) }))
	assert.Equal(t, int64(1), revision())
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.ReplaceOverall(1, nil) }))
	assert.Equal(t, int64(2), revision())
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.TouchRenderRevision(1) }))
	assert.Equal(t, int64(3), revision())

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteLeaderboards(1) }))
	assert.Zero(t, revision())
}

func TestBadgerStore_ReplaceOverall(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		return tx.ReplaceOverall(4, []domain.OverallRow{
			{CompetitionID: 4, UserID: 2, TotalPoints: 5, Position: 1},
			{CompetitionID: 4, UserID: 1, TotalPoints: 3, Position: 2},
		})
	}))
	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
		return tx.ReplaceOverall(4, []domain.OverallRow{
			{CompetitionID: 4, UserID: 1, TotalPoints: 6, Position: 1},
		})
	}))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		got, err := tx.Overall(4)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 6, got[0].TotalPoints)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteLeaderboards(4) }))
	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		got, err := tx.Overall(4)
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}

func TestBadgerStore_Scrambles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	put := func(fileID string, photo []byte) {
		t.Helper()
		require.NoError(t, s.Update(ctx, func(tx ports.Tx) error {
			return tx.PutScramble(domain.Scramble{CompetitionID: 1, DisciplineID: 2, AttemptNumber: 1, FileID: fileID}, photo)
		}))
	}

	put("old", []byte("first"))
	put("new", []byte("second"))

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		scrambles, err := tx.Scrambles(1, 2)
		require.NoError(t, err)
		require.Len(t, scrambles, 1)
		assert.Equal(t, "new", scrambles[0].FileID)

		photo, err := tx.ScramblePhoto("new")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), photo)

		_, err = tx.ScramblePhoto("old")
		assert.True(t, errors.Is(err, ports.ErrNotFound), "replaced photo should be removed")
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx ports.Tx) error { return tx.DeleteScrambles(1) }))
	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		scrambles, err := tx.Scrambles(1, 2)
		require.NoError(t, err)
		assert.Empty(t, scrambles)
		_, err = tx.ScramblePhoto("new")
		assert.True(t, errors.Is(err, ports.ErrNotFound))
		return nil
	}))
}

func TestBadgerStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx ports.Tx) error {
		if err := tx.PutResult(domain.Result{CompetitionID: 1, DisciplineID: 1, ParticipantID: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		_, err := tx.Result(1, 1, 1)
		assert.True(t, errors.Is(err, ports.ErrNotFound))
		return nil
	}))
}

func TestBadgerStore_ConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx ports.Tx) error {
				if _, err := tx.Leaderboard(1, 1); err != nil {
					return err
				}
				rows := make([]domain.LeaderboardRow, i+1)
				for j := range rows {
					rows[j] = domain.LeaderboardRow{UserID: int64(i), Position: j + 1}
				}
				return tx.ReplaceLeaderboard(1, 1, rows)
			})
			if err != nil {
				assert.True(t, errors.Is(err, ports.ErrConflict), "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx ports.Tx) error {
		rows, err := tx.Leaderboard(1, 1)
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		for _, r := range rows {
			assert.Equal(t, rows[0].UserID, r.UserID, "a replace must never interleave with another")
		}
		assert.Len(t, rows, int(rows[0].UserID)+1)
		return nil
	}))
}

func TestBadgerStore_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(tx ports.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// conflictOnce makes the first n runs of an update fail to commit by
// rewriting, from a second transaction, a key the update has just read.
func conflictOnce(t *testing.T, s *BadgerStore, n int, runs *int) func(tx ports.Tx) error {
	t.Helper()
	return func(tx ports.Tx) error {
		*runs++
		if err := tx.ReplaceLeaderboard(1, 1, []domain.LeaderboardRow{{UserID: 1, Position: 1}}); err != nil {
			return err
		}
		if *runs > n {
			return nil
		}
		return s.db.Update(func(txn *badger.Txn) error {
			return put(txn, key(nsRevision, nsLeaderboard, 1, 1), int64(100+*runs))
		})
	}
}

func TestBadgerStore_RetriesConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after a conflict", func(t *testing.T) {
		s := newTestStore(t)
		var runs int
		require.NoError(t, s.Update(ctx, conflictOnce(t, s, 1, &runs)))
		assert.Equal(t, 2, runs)
	})

	t.Run("exhausted retries report a conflict", func(t *testing.T) {
		s, err := Open(Options{InMemory: true, MaxRetries: 3, RetryBackoff: time.Microsecond})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		var runs int
		err = s.Update(ctx, conflictOnce(t, s, 10, &runs))
		assert.ErrorIs(t, err, ports.ErrConflict)
		assert.Equal(t, 3, runs)
	})

	t.Run("cancellation interrupts the backoff", func(t *testing.T) {
		s, err := Open(Options{InMemory: true, RetryBackoff: time.Hour})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		cctx, cancel := context.WithCancel(ctx)
		var runs int
		conflict := conflictOnce(t, s, 10, &runs)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err = s.Update(cctx, conflict)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, runs)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestBadgerStore_Backoff(t *testing.T) {
	s := &BadgerStore{retryBackoff: 4 * time.Millisecond}
	for attempt := 1; attempt <= 40; attempt++ {
		want := min(4*time.Millisecond<<min(attempt-1, 16), maxRetryBackoff)
		got := s.backoff(attempt)
		assert.GreaterOrEqual(t, got, want/2, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want, "attempt %d", attempt)
	}
}
