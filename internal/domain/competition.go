// Package domain contains pure, dependency-free domain models and the
// scoring core for speedcubing competitions: the attempt time codec,
// averaging contracts, point scoring and leaderboard ranking.
package domain

import (
	"fmt"
	"time"
)

// UserRole is the role a user plays in the system.
type UserRole string

// Supported user roles.
const (
	RoleParticipant UserRole = "participant"
	RoleOrganizer   UserRole = "organizer"
	RoleAdmin       UserRole = "admin"
)

// CompetitionStatus is the lifecycle state of a competition.
type CompetitionStatus string

// Competition lifecycle states.
const (
	StatusDraft     CompetitionStatus = "draft"
	StatusActive    CompetitionStatus = "active"
	StatusCompleted CompetitionStatus = "completed"
	StatusCancelled CompetitionStatus = "cancelled"
)

// User is a person known to the system, identified externally by the chat
// id of the transport they talk through.
type User struct {
	ID        int64     `json:"id" msgpack:"id"`
	ChatID    int64     `json:"chat_id" msgpack:"chat_id"`
	Username  string    `json:"username,omitempty" msgpack:"username"`
	FirstName string    `json:"first_name" msgpack:"first_name"`
	LastName  string    `json:"last_name" msgpack:"last_name"`
	Role      UserRole  `json:"role" msgpack:"role"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// Competition groups disciplines, participants and their results.
type Competition struct {
	ID          int64             `json:"id" msgpack:"id"`
	Name        string            `json:"name" msgpack:"name"`
	Code        string            `json:"code" msgpack:"code"`
	OrganizerID int64             `json:"organizer_id" msgpack:"organizer_id"`
	Status      CompetitionStatus `json:"status" msgpack:"status"`
	CreatedAt   time.Time         `json:"created_at" msgpack:"created_at"`
	StartDate   *time.Time        `json:"start_date,omitempty" msgpack:"start_date"`
	EndDate     *time.Time        `json:"end_date,omitempty" msgpack:"end_date"`
}

// AcceptsResults reports whether results may still be submitted.
func (c Competition) AcceptsResults() bool {
	return c.Status != StatusCompleted && c.Status != StatusCancelled
}

// Discipline is a puzzle event, e.g. 3x3 or Pyraminx, with its scoring rule.
type Discipline struct {
	ID             int64          `json:"id" msgpack:"id"`
	Name           string         `json:"name" msgpack:"name"`
	Code           string         `json:"code" msgpack:"code"`
	Rule           DisciplineRule `json:"rule" msgpack:"rule"`
	MaxTimeMinutes int            `json:"max_time_minutes" msgpack:"max_time_minutes"`
}

// Participant registers a user for a competition.
type Participant struct {
	ID            int64     `json:"id" msgpack:"id"`
	CompetitionID int64     `json:"competition_id" msgpack:"competition_id"`
	UserID        int64     `json:"user_id" msgpack:"user_id"`
	RegisteredAt  time.Time `json:"registered_at" msgpack:"registered_at"`
}

// Scramble is the photo of the scramble for one attempt of a discipline.
type Scramble struct {
	CompetitionID int64     `json:"competition_id" msgpack:"competition_id"`
	DisciplineID  int64     `json:"discipline_id" msgpack:"discipline_id"`
	AttemptNumber int       `json:"attempt_number" msgpack:"attempt_number"`
	FileID        string    `json:"file_id" msgpack:"file_id"`
	ContentType   string    `json:"content_type,omitempty" msgpack:"content_type"`
	UploadedAt    time.Time `json:"uploaded_at" msgpack:"uploaded_at"`
}

// Result is a participant's set of attempts in one discipline together
// with the values derived from them. Average and Best are only ever set
// through SetAttempts so they never drift from the attempts.
type Result struct {
	CompetitionID int64     `json:"competition_id" msgpack:"competition_id"`
	DisciplineID  int64     `json:"discipline_id" msgpack:"discipline_id"`
	ParticipantID int64     `json:"participant_id" msgpack:"participant_id"`
	UserID        int64     `json:"user_id" msgpack:"user_id"`
	Attempts      []Time    `json:"attempts" msgpack:"attempts"`
	Average       Time      `json:"average" msgpack:"average"`
	Best          Time      `json:"best" msgpack:"best"`
	SubmittedAt   time.Time `json:"submitted_at" msgpack:"submitted_at"`
	UpdatedAt     time.Time `json:"updated_at" msgpack:"updated_at"`
}

// SetAttempts replaces the whole attempt set and recomputes the average and
// best single with avg. The result is left untouched on error.
func (r *Result) SetAttempts(avg Averager, attempts []Time) error {
	average, err := avg.Average(attempts)
	if err != nil {
		return fmt.Errorf("%s average: %w", avg.Policy(), err)
	}

	r.Attempts = append([]Time(nil), attempts...)
	r.Average = average
	r.Best = BestTime(attempts)
	return nil
}

// Entry projects the result into ranking input.
func (r Result) Entry() DisciplineEntry {
	return DisciplineEntry{UserID: r.UserID, Average: r.Average, Best: r.Best}
}
