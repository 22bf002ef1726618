package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/danielolaszy/hookbot/internal/events"
	"github.com/danielolaszy/hookbot/internal/logging"
)

// maxBodySize bounds webhook payloads. GitHub caps deliveries at 25 MB.
const maxBodySize = 25 << 20

// Dispatcher routes a decoded event to its handler and returns a short
// acknowledgement. It must not block on the handler's side effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, event events.Event, auth Outcome) string
}

// Options configures the webhook endpoints.
type Options struct {
	GitHubSecret     string
	GitLabSecret     string
	RequireSignature bool
}

// Server exposes the webhook endpoints.
type Server struct {
	Router     *chi.Mux
	options    Options
	dispatcher Dispatcher
}

// NewServer creates the router for the webhook endpoints.
func NewServer(options Options, dispatcher Dispatcher) *Server {
	s := &Server{options: options, dispatcher: dispatcher}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthCheck)
	r.Post("/github", s.handleGitHub)
	r.Post("/gitlab", s.handleGitLab)

	s.Router = r
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}
	auth := VerifyGitHub([]byte(s.options.GitHubSecret), body, signature)
	if !s.authorized(r, "github", auth) {
		writeText(w, http.StatusUnauthorized, "Webhook signature could not be verified.")
		return
	}

	kind := r.Header.Get("X-GitHub-Event")
	if kind == "" {
		writeText(w, http.StatusBadRequest, "Missing X-GitHub-Event header.")
		return
	}

	event, err := events.DecodeGitHub(kind, body)
	s.respond(w, r, auth, event, err)
}

func (s *Server) handleGitLab(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	auth := VerifyGitLab(s.options.GitLabSecret, r.Header.Get("X-Gitlab-Token"))
	if !s.authorized(r, "gitlab", auth) {
		writeText(w, http.StatusUnauthorized, "Webhook token could not be verified.")
		return
	}

	kind := string(gitlab.HookEventType(r))
	if kind == "" {
		writeText(w, http.StatusBadRequest, "Missing X-Gitlab-Event header.")
		return
	}

	event, err := events.DecodeGitLab(kind, body)
	s.respond(w, r, auth, event, err)
}

// authorized rejects invalid signatures always, and unsigned deliveries when
// signatures are required.
func (s *Server) authorized(r *http.Request, platform string, auth Outcome) bool {
	if auth == SignedValid || (auth == Unsigned && !s.options.RequireSignature) {
		return true
	}
	logging.Warn("rejecting webhook",
		"platform", platform,
		"auth", auth.String(),
		"remote_addr", r.RemoteAddr,
		"error", ErrAuthentication)
	return false
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, auth Outcome, event events.Event, err error) {
	if err != nil {
		var decodeErr *events.DecodeError
		if errors.As(err, &decodeErr) {
			logging.Warn("failed to decode webhook", "error", err)
			writeText(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		logging.Error("unexpected webhook error", "error", err)
		writeText(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	writeText(w, http.StatusOK, s.dispatcher.Dispatch(r.Context(), event, auth))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Payload too large.")
			return nil, false
		}
		logging.Error("failed to read webhook body", "error", err)
		writeText(w, http.StatusBadRequest, "Could not read request body.")
		return nil, false
	}
	return body, true
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, text)
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
