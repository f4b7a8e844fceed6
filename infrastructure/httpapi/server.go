// Package httpapi exposes the competition and scoring services over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/internal/application"
	"github.com/ahrav/go-cubecomp/internal/domain"
)

// ActorHeader carries the id of the user performing a management action.
// The actor query parameter is accepted as a fallback.
const ActorHeader = "X-Actor-ID"

// Competitions is the part of the competition service the API uses.
type Competitions interface {
	RegisterUser(ctx context.Context, req application.RegisterUserRequest) (domain.User, error)
	CreateCompetition(ctx context.Context, req application.CreateCompetitionRequest) (domain.Competition, error)
	AddDisciplines(ctx context.Context, code string, actorID int64, codes []string) (application.AddDisciplinesResult, error)
	GetCompetition(ctx context.Context, code string) (application.CompetitionDetails, error)
	ListByOrganizer(ctx context.Context, organizerID int64) ([]domain.Competition, error)
	RegisterParticipant(ctx context.Context, code string, userID int64) (domain.Participant, error)
	CompleteCompetition(ctx context.Context, code string, actorID int64) (domain.Competition, error)
	DeleteCompetition(ctx context.Context, code string, actorID int64) error
	UploadScramble(ctx context.Context, req application.UploadScrambleRequest) (domain.Scramble, error)
	ListScrambles(ctx context.Context, code, disciplineCode string) ([]domain.Scramble, error)
	ScramblePhoto(ctx context.Context, fileID string) ([]byte, error)
}

// Scoring is the part of the scoring service the API uses.
type Scoring interface {
	SubmitResult(ctx context.Context, req application.SubmitResultRequest) (domain.Result, error)
	RecalculateCompetition(ctx context.Context, code string) ([]domain.OverallRow, error)
	DisciplineLeaderboard(ctx context.Context, code, disciplineCode string) ([]domain.LeaderboardRow, error)
	OverallStanding(ctx context.Context, code string) ([]domain.OverallRow, error)
	ParticipantResults(ctx context.Context, code string, userID int64) ([]application.ParticipantResult, error)
	ParticipantPosition(ctx context.Context, code, disciplineCode string, userID int64) (domain.LeaderboardRow, error)
	RenderDisciplineLeaderboard(ctx context.Context, code, disciplineCode string) (string, error)
	RenderOverallStanding(ctx context.Context, code string) (string, error)
	RenderParticipantResults(ctx context.Context, code string, userID int64) (string, error)
}

// Options configures the HTTP API.
type Options struct {
	// RateLimit is the sustained requests per second per client. Zero
	// disables rate limiting.
	RateLimit float64
	// RateBurst is the per-client burst. Zero derives it from RateLimit.
	RateBurst int
	// MaxUploadBytes caps scramble photo bodies. Zero means 5 MiB.
	MaxUploadBytes int64
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// RequestTimeout bounds handler execution. Zero means 30s.
	RequestTimeout time.Duration
}

// Server routes HTTP requests to the services.
type Server struct {
	competitions Competitions
	scoring      Scoring
	opts         Options
	validate     *validator.Validate
	logger       zerolog.Logger
	limiter      *clientRateLimiter
}

// NewServer creates a Server.
func NewServer(competitions Competitions, scoring Scoring, opts Options, logger zerolog.Logger) (*Server, error) {
	v, err := application.NewValidator()
	if err != nil {
		return nil, err
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		competitions: competitions,
		scoring:      scoring,
		opts:         opts,
		validate:     v,
		logger:       logger.With().Str("component", "http").Logger(),
	}
	if opts.RateLimit > 0 {
		s.limiter = newClientRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Post("/users", s.registerUser)
		r.Get("/organizers/{id}/competitions", s.listByOrganizer)
		r.Get("/scrambles/{fileID}", s.scramblePhoto)

		r.Post("/competitions", s.createCompetition)
		r.Route("/competitions/{code}", func(r chi.Router) {
			r.Get("/", s.getCompetition)
			r.Delete("/", s.deleteCompetition)
			r.Post("/complete", s.completeCompetition)
			r.Post("/recalculate", s.recalculate)
			r.Post("/participants", s.registerParticipant)
			r.Post("/disciplines", s.addDisciplines)
			r.Get("/overall", s.overall)
			r.Get("/users/{id}/results", s.participantResults)

			r.Route("/disciplines/{discipline}", func(r chi.Router) {
				r.Post("/results", s.submitResult)
				r.Get("/leaderboard", s.leaderboard)
				r.Get("/users/{id}/position", s.participantPosition)
				r.Get("/scrambles", s.listScrambles)
				r.Put("/scrambles/{attempt}", s.uploadScramble)
			})
		})
	})

	return r
}

// accessLog logs one line per request with zerolog.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
