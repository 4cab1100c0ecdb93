package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appauth "gatescan/internal/application/auth"
	"gatescan/internal/application/report"
	"gatescan/internal/application/scanner"
	"gatescan/internal/domain/capture"
	"gatescan/internal/domain/session"
	"gatescan/internal/middleware"
)

// ArtifactStore archives generated exports off the kiosk.
type ArtifactStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Router struct {
	workflow  *scanner.Workflow
	auth      *appauth.Service
	exporter  *report.Exporter
	artifacts ArtifactStore // optional
}

func NewRouter(workflow *scanner.Workflow, auth *appauth.Service, exporter *report.Exporter, artifacts ArtifactStore) http.Handler {
	r := &Router{workflow: workflow, auth: auth, exporter: exporter, artifacts: artifacts}
	mux := chi.NewRouter()

	mux.Route("/api", func(rt chi.Router) {
		rt.Post("/login", r.wrap(r.handleLogin))
		rt.Post("/logout", r.wrap(r.handleLogout))
		rt.Get("/session", r.wrap(r.handleSession))

		rt.Post("/scanner/start", r.wrap(r.handleStart))
		rt.Post("/scanner/stop", r.wrap(r.handleStop))
		rt.Post("/scanner/confirm", r.wrap(r.handleConfirm))
		rt.Post("/scanner/reject", r.wrap(r.handleReject))
		rt.Get("/scanner/status", r.wrap(r.handleStatus))

		rt.Post("/scan", r.wrap(r.handleManualScan))
		rt.Get("/history", r.wrap(r.handleHistory))
		rt.Get("/stats", r.wrap(r.handleStats))
		rt.Get("/export", r.wrap(r.handleExport))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type validationError struct{ err error }

func (v validationError) Error() string { return v.err.Error() }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var verr validationError
			switch {
			case errors.As(err, &verr):
				http.Error(w, verr.Error(), http.StatusBadRequest)
			case errors.Is(err, session.ErrNotFound), errors.Is(err, scanner.ErrNoSession):
				http.Error(w, err.Error(), http.StatusUnauthorized)
			case errors.Is(err, capture.ErrUnavailable):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			case errors.Is(err, scanner.ErrBusy), errors.Is(err, scanner.ErrNotAwaiting):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, scanner.ErrEmptyCode), errors.Is(err, appauth.ErrMissingCredentials):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /api/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return validationError{err}
	}
	if err := middleware.ValidateEmail(strings.TrimSpace(body.Email)); err != nil {
		return validationError{err}
	}

	sess, err := r.auth.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	r.workflow.Attach(sess)
	r.workflow.Seed(req.Context())

	return writeJSON(w, map[string]any{
		"token":     sess.Token,
		"moderator": sess.Moderator,
	})
}

// POST /api/logout
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) error {
	r.workflow.Detach()
	if err := r.auth.Logout(); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "logged out"})
}

// GET /api/session
func (r *Router) handleSession(w http.ResponseWriter, req *http.Request) error {
	sess, err := r.auth.Current()
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]any{"moderator": sess.Moderator})
}

// POST /api/scanner/start
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	if err := r.workflow.Start(req.Context()); err != nil {
		return err
	}
	return writeJSON(w, r.workflow.Status())
}

// POST /api/scanner/stop
func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) error {
	r.workflow.Stop()
	return writeJSON(w, r.workflow.Status())
}

// POST /api/scanner/confirm
func (r *Router) handleConfirm(w http.ResponseWriter, req *http.Request) error {
	outcome, err := r.workflow.Confirm(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, outcome)
}

// POST /api/scanner/reject
func (r *Router) handleReject(w http.ResponseWriter, req *http.Request) error {
	if err := r.workflow.Reject(); err != nil {
		return err
	}
	return writeJSON(w, r.workflow.Status())
}

// GET /api/scanner/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, r.workflow.Status())
}

// POST /api/scan
// Body: {"code": "<ticket code>"}
func (r *Router) handleManualScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return validationError{err}
	}
	if err := middleware.ValidateManualCode(body.Code); err != nil {
		return validationError{err}
	}

	outcome, err := r.workflow.SubmitManual(req.Context(), body.Code)
	if err != nil {
		return err
	}
	return writeJSON(w, outcome)
}

// GET /api/history?limit=20
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)
	return writeJSON(w, map[string]any{"history": r.workflow.RecentHistory(req.Context(), limit)})
}

// GET /api/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, map[string]any{"stats": r.workflow.Stats()})
}

// GET /api/export?format=csv|json&upload=1
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) error {
	formatParam := req.URL.Query().Get("format")
	if err := middleware.ValidateExportFormat(formatParam); err != nil {
		return validationError{err}
	}
	format := report.FormatCSV
	if strings.ToLower(formatParam) == "json" {
		format = report.FormatJSON
	}

	sess, err := r.auth.Current()
	if err != nil {
		return err
	}

	in := report.Input{
		Moderator: sess.Moderator,
		Event:     r.workflow.Event(),
		Stats:     r.workflow.Stats(),
		History:   r.workflow.RecentHistory(req.Context(), 0),
	}

	var data []byte
	if format == report.FormatJSON {
		data, err = r.exporter.JSON(in)
		if err != nil {
			return err
		}
	} else {
		data = r.exporter.CSV(in)
	}

	filename := r.exporter.Filename(format)

	if req.URL.Query().Get("upload") == "1" {
		if r.artifacts == nil {
			return fmt.Errorf("artifact store not configured")
		}
		url, err := r.artifacts.UploadBytes(req.Context(), filename, data, report.ContentType(format))
		if err != nil {
			return err
		}
		return writeJSON(w, map[string]string{"url": url, "filename": filename})
	}

	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, err = w.Write(data)
	return err
}
