package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/analyst-agent/internal/application/intake"
	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
	"github.com/bryanwahyu/analyst-agent/internal/middleware"
)

// QuestionsFile is the part that carries the question text.
const QuestionsFile = "questions.txt"

// Asker is the ask use-case.
type Asker interface {
	Ask(ctx context.Context, sub intake.Submission) domain.Answer
}

// Options for the HTTP surface. Zero values disable the optional parts.
type Options struct {
	APIKeys      map[string]string
	CORSOrigins  []string
	RateLimiter  *middleware.RateLimiter
	MaxBodyBytes int64
	Health       map[string]middleware.HealthChecker
	Metrics      *middleware.Metrics
	Log          *zap.Logger
}

type Router struct {
	svc     Asker
	runs    domain.RunRepository
	metrics *middleware.Metrics
	log     *zap.Logger
}

// NewRouter builds the HTTP handler. runs may be nil when history is disabled.
func NewRouter(svc Asker, runs domain.RunRepository, opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := &Router{svc: svc, runs: runs, metrics: opts.Metrics, log: opts.Log}
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Elapsed"},
		MaxAge:         300,
	}))
	mux.Use(opts.Metrics.Middleware)
	mux.Use(middleware.Logging(opts.Log))
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(opts.RateLimiter))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Get("/metrics", opts.Metrics.Handler)

	mux.Route("/api", func(rt chi.Router) {
		rt.With(middleware.MaxBodyBytes(opts.MaxBodyBytes)).Post("/", r.wrap(r.handleAsk))
		rt.Get("/runs", r.wrap(r.handleLatest))
		rt.Get("/runs/{id}", r.wrap(r.handleGet))
	})

	return mux
}

var (
	errBadRequest      = errors.New("bad request")
	errHistoryDisabled = errors.New("run history is disabled")
)

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.Is(err, domain.ErrRunNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large"):
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			case errors.Is(err, errBadRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, errHistoryDisabled):
				http.Error(w, err.Error(), http.StatusNotImplemented)
			default:
				r.log.Error("handler failed", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// StatusFor maps an answer to its HTTP status.
func StatusFor(ans domain.Answer) int {
	if ans.OK() {
		return http.StatusOK
	}
	switch ans.Reason {
	case domain.ReasonInvalidInput:
		return http.StatusBadRequest
	case domain.ReasonPlanGenerationFailed:
		return http.StatusBadGateway
	case domain.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

// POST /api/
// multipart/form-data: questions.txt plus any number of attachments.
func (r *Router) handleAsk(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer req.MultipartForm.RemoveAll()

	sub, err := submissionFromForm(req)
	if err != nil {
		return err
	}
	sub.ID = requestID(req)

	done := r.metrics.RunStarted()
	ans := r.svc.Ask(req.Context(), sub)
	done(ans)

	w.Header().Set("X-Request-ID", ans.RequestID)
	w.Header().Set("X-Elapsed", strconv.FormatFloat(ans.Elapsed.Seconds(), 'f', 3, 64))
	w.Header().Set("Content-Type", "application/json")
	if ans.OK() {
		// payload apa adanya
		_, err := w.Write(ans.Payload)
		return err
	}
	w.WriteHeader(StatusFor(ans))
	return json.NewEncoder(w).Encode(ans)
}

// submissionFromForm picks questions.txt by field or file name, case
// insensitively; every other file part is an attachment. A plain
// "question" form value is accepted too.
func submissionFromForm(req *http.Request) (intake.Submission, error) {
	var sub intake.Submission
	form := req.MultipartForm

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	found := false
	for _, field := range fields {
		for _, fh := range form.File[field] {
			f, err := fh.Open()
			if err != nil {
				return sub, err
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return sub, err
			}
			if !found && (strings.EqualFold(field, QuestionsFile) || strings.EqualFold(fh.Filename, QuestionsFile)) {
				sub.Question = string(content)
				found = true
				continue
			}
			sub.Files = append(sub.Files, intake.File{
				Field:     field,
				Name:      fh.Filename,
				MediaType: fh.Header.Get("Content-Type"),
				Content:   content,
			})
		}
	}
	if !found {
		if v := form.Value["question"]; len(v) > 0 {
			sub.Question = v[0]
		}
	}
	return sub, nil
}

// requestID takes a well formed X-Request-ID from the client, else a new uuid.
func requestID(req *http.Request) string {
	if id := req.Header.Get("X-Request-ID"); id != "" && middleware.ValidateRunID(id) == nil {
		return id
	}
	return uuid.NewString()
}

// GET /api/runs?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	if r.runs == nil {
		return errHistoryDisabled
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.runs.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /api/runs/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	if r.runs == nil {
		return errHistoryDisabled
	}
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	run, err := r.runs.GetRun(req.Context(), id)
	if err != nil {
		return err
	}
	attempts, err := r.runs.Attempts(req.Context(), id)
	if err != nil {
		return err
	}
	if attempts == nil {
		attempts = []*domain.AttemptRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"run":      run,
		"attempts": attempts,
	})
}
