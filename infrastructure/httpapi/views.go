package httpapi

import (
	"time"

	"github.com/ahrav/go-cubecomp/internal/application"
	"github.com/ahrav/go-cubecomp/internal/domain"
)

// Times are rendered with domain.FormatTime so clients see the same values
// as the text leaderboards.

type resultView struct {
	Discipline  string    `json:"discipline,omitempty"`
	Attempts    []string  `json:"attempts"`
	Average     string    `json:"average"`
	Best        string    `json:"best"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newResultView(code string, r domain.Result) resultView {
	attempts := make([]string, len(r.Attempts))
	for i, a := range r.Attempts {
		attempts[i] = domain.FormatTime(a)
	}
	return resultView{
		Discipline:  code,
		Attempts:    attempts,
		Average:     domain.FormatTime(r.Average),
		Best:        domain.FormatTime(r.Best),
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func newResultViews(results []application.ParticipantResult) []resultView {
	out := make([]resultView, len(results))
	for i, pr := range results {
		out[i] = newResultView(pr.Discipline.Code, pr.Result)
	}
	return out
}

type leaderboardRowView struct {
	Position int    `json:"position,omitempty"`
	UserID   int64  `json:"user_id"`
	Average  string `json:"average"`
	Best     string `json:"best"`
	Points   int    `json:"points"`
}

func newLeaderboardRowView(r domain.LeaderboardRow) leaderboardRowView {
	return leaderboardRowView{
		Position: r.Position,
		UserID:   r.UserID,
		Average:  domain.FormatTime(r.Average),
		Best:     domain.FormatTime(r.Best),
		Points:   r.Points,
	}
}

func newLeaderboardViews(rows []domain.LeaderboardRow) []leaderboardRowView {
	out := make([]leaderboardRowView, len(rows))
	for i, r := range rows {
		out[i] = newLeaderboardRowView(r)
	}
	return out
}

type overallRowView struct {
	Position    int   `json:"position"`
	UserID      int64 `json:"user_id"`
	TotalPoints int   `json:"total_points"`
	Disciplines int   `json:"disciplines"`
}

func newOverallViews(rows []domain.OverallRow) []overallRowView {
	out := make([]overallRowView, len(rows))
	for i, r := range rows {
		out[i] = overallRowView{
			Position:    r.Position,
			UserID:      r.UserID,
			TotalPoints: r.TotalPoints,
			Disciplines: r.DisciplinesParticipated,
		}
	}
	return out
}
