package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/go-cubecomp/internal/application"
)

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 1 << 20

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterUserRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.competitions.RegisterUser(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) createCompetition(w http.ResponseWriter, r *http.Request) {
	var req application.CreateCompetitionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	comp, err := s.competitions.CreateCompetition(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, comp)
}

func (s *Server) getCompetition(w http.ResponseWriter, r *http.Request) {
	details, err := s.competitions.GetCompetition(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) listByOrganizer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	comps, err := s.competitions.ListByOrganizer(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

func (s *Server) completeCompetition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	comp, err := s.competitions.CompleteCompetition(r.Context(), chi.URLParam(r, "code"), actor)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (s *Server) deleteCompetition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.competitions.DeleteCompetition(r.Context(), chi.URLParam(r, "code"), actor); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addDisciplinesBody struct {
	Disciplines []string `json:"disciplines" validate:"required,min=1,dive,required"`
}

func (s *Server) addDisciplines(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var body addDisciplinesBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	res, err := s.competitions.AddDisciplines(r.Context(), chi.URLParam(r, "code"), actor, body.Disciplines)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerParticipantBody struct {
	UserID int64 `json:"user_id" validate:"required"`
}

func (s *Server) registerParticipant(w http.ResponseWriter, r *http.Request) {
	var body registerParticipantBody
	if err := s.decode(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	p, err := s.competitions.RegisterParticipant(r.Context(), chi.URLParam(r, "code"), body.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) submitResult(w http.ResponseWriter, r *http.Request) {
	var req application.SubmitResultRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	req.CompetitionCode = chi.URLParam(r, "code")
	req.DisciplineCode = chi.URLParam(r, "discipline")

	result, err := s.scoring.SubmitResult(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(strings.ToLower(req.DisciplineCode), result))
}

func (s *Server) recalculate(w http.ResponseWriter, r *http.Request) {
	rows, err := s.scoring.RecalculateCompetition(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverallViews(rows))
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	code, disc := chi.URLParam(r, "code"), chi.URLParam(r, "discipline")
	if wantsText(r) {
		text, err := s.scoring.RenderDisciplineLeaderboard(r.Context(), code, disc)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeText(w, text)
		return
	}

	rows, err := s.scoring.DisciplineLeaderboard(r.Context(), code, disc)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newLeaderboardViews(rows))
}

func (s *Server) overall(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if wantsText(r) {
		text, err := s.scoring.RenderOverallStanding(r.Context(), code)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeText(w, text)
		return
	}

	rows, err := s.scoring.OverallStanding(r.Context(), code)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverallViews(rows))
}

func (s *Server) participantResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	code := chi.URLParam(r, "code")
	if wantsText(r) {
		text, err := s.scoring.RenderParticipantResults(r.Context(), code, id)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeText(w, text)
		return
	}

	results, err := s.scoring.ParticipantResults(r.Context(), code, id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultViews(results))
}

func (s *Server) participantPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	row, err := s.scoring.ParticipantPosition(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "discipline"), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newLeaderboardRowView(row))
}

func (s *Server) uploadScramble(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	attempt, err := strconv.Atoi(chi.URLParam(r, "attempt"))
	if err != nil {
		writeError(w, s.logger, fmt.Errorf("%w: attempt %q", application.ErrInvalidAttemptNumber, chi.URLParam(r, "attempt")))
		return
	}

	photo, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	scramble, err := s.competitions.UploadScramble(r.Context(), application.UploadScrambleRequest{
		CompetitionCode: chi.URLParam(r, "code"),
		DisciplineCode:  chi.URLParam(r, "discipline"),
		AttemptNumber:   attempt,
		ActorID:         actor,
		ContentType:     r.Header.Get("Content-Type"),
		Photo:           photo,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, scramble)
}

func (s *Server) listScrambles(w http.ResponseWriter, r *http.Request) {
	scrambles, err := s.competitions.ListScrambles(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "discipline"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, scrambles)
}

func (s *Server) scramblePhoto(w http.ResponseWriter, r *http.Request) {
	photo, err := s.competitions.ScramblePhoto(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(photo))
	w.Header().Set("Content-Length", strconv.Itoa(len(photo)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(photo)
}

// decode reads a JSON body into v and validates its struct tags. Unknown
// fields are rejected.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", application.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", application.ErrInvalidRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", application.ErrInvalidRequest, err)
	}
	return nil
}

// actorID reads the acting user from ActorHeader or the actor query
// parameter.
func actorID(r *http.Request) (int64, error) {
	raw := r.Header.Get(ActorHeader)
	if raw == "" {
		raw = r.URL.Query().Get("actor")
	}
	if raw == "" {
		return 0, errMissingActor
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: actor id %q", application.ErrInvalidRequest, raw)
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q", application.ErrInvalidRequest, name, raw)
	}
	return id, nil
}

func wantsText(r *http.Request) bool {
	return r.URL.Query().Get("format") == "text"
}
