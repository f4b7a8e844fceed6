package domain

import (
	"cmp"
	"slices"
	"time"
)

// DisciplineEntry is one participant's computed result within a discipline,
// the input to RankDiscipline.
type DisciplineEntry struct {
	UserID  int64
	Average Time
	Best    Time
}

// LeaderboardRow is a participant's standing within one discipline of one
// competition. Rows are derived data: they are always rebuilt as a whole
// set from the current results and never patched individually.
type LeaderboardRow struct {
	CompetitionID int64 `json:"competition_id" msgpack:"competition_id"`
	DisciplineID  int64 `json:"discipline_id" msgpack:"discipline_id"`
	UserID        int64 `json:"user_id" msgpack:"user_id"`

	// Position is the 1-based rank, or 0 when the average is DNF.
	Position int `json:"position" msgpack:"position"`

	Average Time `json:"average" msgpack:"average"`
	Best    Time `json:"best" msgpack:"best"`

	// Points is 0 whenever the average is DNF.
	Points int `json:"points" msgpack:"points"`

	CalculatedAt time.Time `json:"calculated_at" msgpack:"calculated_at"`
}

// Ranked reports whether the row holds a position.
func (r LeaderboardRow) Ranked() bool { return r.Position > 0 }

// OverallRow is a participant's aggregate standing across every discipline
// of a competition.
type OverallRow struct {
	CompetitionID int64 `json:"competition_id" msgpack:"competition_id"`
	UserID        int64 `json:"user_id" msgpack:"user_id"`

	TotalPoints int `json:"total_points" msgpack:"total_points"`

	// DisciplinesParticipated counts the discipline rows that contributed,
	// including rows worth zero points.
	DisciplinesParticipated int `json:"disciplines_participated" msgpack:"disciplines_participated"`

	Position int `json:"position" msgpack:"position"`

	CalculatedAt time.Time `json:"calculated_at" msgpack:"calculated_at"`
}

// compareEntries orders DNF averages after all numeric ones; numeric
// averages ascend, with the best single breaking ties.
func compareEntries(a, b DisciplineEntry) int {
	if a.Average.DNF != b.Average.DNF {
		if a.Average.DNF {
			return 1
		}
		return -1
	}
	if a.Average.DNF {
		return 0
	}
	if c := cmp.Compare(a.Average.Millis, b.Average.Millis); c != 0 {
		return c
	}
	return compareTimes(a.Best, b.Best)
}

// compareTimes orders numeric times ascending and DNF last.
func compareTimes(a, b Time) int {
	switch {
	case a.DNF && b.DNF:
		return 0
	case a.DNF:
		return 1
	case b.DNF:
		return -1
	}
	return cmp.Compare(a.Millis, b.Millis)
}

// RankDiscipline produces the complete leaderboard for one discipline.
//
// Entries are sorted stably: numeric averages ascending with the best single
// as tie-break, then all DNF averages in input order. Non-DNF rows receive
// contiguous positions starting at 1 and points from CalculatePoints; DNF
// rows receive neither. The input slice is not modified and an empty input
// yields an empty leaderboard.
func RankDiscipline(competitionID, disciplineID int64, entries []DisciplineEntry) []LeaderboardRow {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, compareEntries)

	withDNF := 0
	for _, e := range sorted {
		if e.Average.DNF {
			withDNF++
		}
	}

	rows := make([]LeaderboardRow, 0, len(sorted))
	for i, e := range sorted {
		row := LeaderboardRow{
			CompetitionID: competitionID,
			DisciplineID:  disciplineID,
			UserID:        e.UserID,
			Average:       e.Average,
			Best:          e.Best,
		}
		if !e.Average.DNF {
			row.Position = i + 1
			row.Points = CalculatePoints(row.Position, len(sorted), withDNF)
		}
		rows = append(rows, row)
	}
	return rows
}

// RankOverall aggregates discipline rows into the overall standing of a
// competition. Every participant gets a row, even with no results. Rows
// for users outside participants are ignored.
//
// Standing is sorted by total points descending; ties keep the order of
// participants. Positions are contiguous from 1.
func RankOverall(competitionID int64, participants []int64, rows []LeaderboardRow) []OverallRow {
	standing := make([]OverallRow, len(participants))
	index := make(map[int64]int, len(participants))
	for i, userID := range participants {
		standing[i] = OverallRow{CompetitionID: competitionID, UserID: userID}
		index[userID] = i
	}

	for _, r := range rows {
		i, ok := index[r.UserID]
		if !ok {
			continue
		}
		standing[i].TotalPoints += r.Points
		standing[i].DisciplinesParticipated++
	}

	slices.SortStableFunc(standing, func(a, b OverallRow) int {
		return cmp.Compare(b.TotalPoints, a.TotalPoints)
	})
	for i := range standing {
		standing[i].Position = i + 1
	}
	return standing
}
