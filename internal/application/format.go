package application

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

// missing marks an absent best single or position in text renderings.
const missing = "—"

// DisplayName is the name shown for u in leaderboards: the title-cased full
// name, else the username, else the numeric id.
func DisplayName(u domain.User) string {
	full := strings.Join(strings.Fields(u.FirstName+" "+u.LastName), " ")
	switch {
	case full != "":
		return cases.Title(language.Und).String(full)
	case u.Username != "":
		return "@" + u.Username
	default:
		return fmt.Sprintf("#%d", u.ID)
	}
}

// FormatLeaderboard renders a discipline leaderboard in its stored order.
func FormatLeaderboard(d domain.Discipline, rows []domain.LeaderboardRow, names map[int64]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Leaderboard: %s (%s)", d.Name, d.Code)
	if len(rows) == 0 {
		b.WriteString("\nNo results yet.")
		return b.String()
	}

	for _, r := range rows {
		pos := missing
		if r.Ranked() {
			pos = strconv.Itoa(r.Position)
		}
		best := missing
		if !r.Best.DNF {
			best = domain.FormatTime(r.Best)
		}
		fmt.Fprintf(&b, "\n%s. %s  average: %s  best: %s  points: %d",
			pos, nameOf(names, r.UserID), domain.FormatTime(r.Average), best, r.Points)
	}
	return b.String()
}

// FormatOverall renders the overall standing in its computed order.
func FormatOverall(rows []domain.OverallRow, names map[int64]string) string {
	var b strings.Builder
	b.WriteString("Overall standing:")
	if len(rows) == 0 {
		b.WriteString("\nNo participants yet.")
		return b.String()
	}

	for _, r := range rows {
		fmt.Fprintf(&b, "\n%d. %s  points: %d  disciplines: %d",
			r.Position, nameOf(names, r.UserID), r.TotalPoints, r.DisciplinesParticipated)
	}
	return b.String()
}

// FormatParticipantResults renders one participant's results.
func FormatParticipantResults(results []ParticipantResult) string {
	var b strings.Builder
	b.WriteString("Your results:")
	if len(results) == 0 {
		b.WriteString("\nNo results yet.")
		return b.String()
	}

	for _, pr := range results {
		best := missing
		if !pr.Result.Best.DNF {
			best = domain.FormatTime(pr.Result.Best)
		}
		fmt.Fprintf(&b, "\n%s: average=%s, best=%s",
			pr.Discipline.Code, domain.FormatTime(pr.Result.Average), best)
	}
	return b.String()
}

func nameOf(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("#%d", id)
}
