// Package http exposes the consolidation engine over a small JSON API:
// starting runs, polling progress, and a chat-bot adapter endpoint.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "qworker/internal/errors"
	"qworker/internal/progress"
)

// Runner is the consolidation engine surface the transport needs.
type Runner interface {
	Start(ctx context.Context, user string, paths []string) string
	RunAll(ctx context.Context, user string) (string, error)
}

// Handler serves the consolidation API.
type Handler struct {
	runner   Runner
	tracker  progress.Tracker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(runner Runner, tracker progress.Tracker, logger *slog.Logger) *Handler {
	if runner == nil {
		panic("runner cannot be nil")
	}
	if tracker == nil {
		panic("tracker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner:   runner,
		tracker:  tracker,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "runs")),
	}
}

// Routes mounts the API routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/runs", h.StartRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Post("/runs/rebuild", h.RebuildAll)
	r.Post("/bot/messages", h.BotMessage)
	return r
}

// StartRunRequest is the payload for starting a consolidation run. Files
// must already be reachable on the server's file system.
type StartRunRequest struct {
	User  string   `json:"user" validate:"required"`
	Files []string `json:"files" validate:"required,min=1,dive,required"`
}

// Bind implements render.Binder.
func (r *StartRunRequest) Bind(*http.Request) error { return nil }

// StartRunResponse carries the identifier of the launched run.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRun launches a consolidation run and returns its id immediately;
// the caller polls GetRun for completion.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	data := &StartRunRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	runID := h.runner.Start(r.Context(), data.User, data.Files)
	h.logger.InfoContext(r.Context(), "consolidation run started",
		slog.String("run_id", runID),
		slog.String("user", data.User),
		slog.Int("files", len(data.Files)))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StartRunResponse{RunID: runID})
}

// GetRun returns the progress snapshot for a run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	snapshot, ok := h.tracker.Get(runID)
	if !ok {
		render.Render(w, r, apierrors.RunNotFoundError(runID))
		return
	}
	render.JSON(w, r, snapshot)
}

// RebuildAllRequest is the payload for regenerating every master workbook
// from stored history.
type RebuildAllRequest struct {
	User string `json:"user" validate:"required"`
}

// Bind implements render.Binder.
func (r *RebuildAllRequest) Bind(*http.Request) error { return nil }

// RebuildAll launches a rebuild of all master workbooks and the summary
// report from the store, without importing anything new. Like StartRun it
// answers immediately with a run id for polling.
func (h *Handler) RebuildAll(w http.ResponseWriter, r *http.Request) {
	data := &RebuildAllRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	runID, err := h.runner.RunAll(r.Context(), data.User)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rebuild failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StartRunResponse{RunID: runID})
}

// BotMessageRequest is the chat-bot adapter payload: a sender and the file
// attachments the bot saved to disk.
type BotMessageRequest struct {
	Sender      string   `json:"sender" validate:"required"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
}

// Bind implements render.Binder.
func (r *BotMessageRequest) Bind(*http.Request) error { return nil }

// BotMessageResponse is what the bot relays back to the chat.
type BotMessageResponse struct {
	RunID string `json:"run_id,omitempty"`
	Reply string `json:"reply"`
}

// BotMessage is a thin adapter over the same engine for chat-bot uploads.
// Attachments start a run; a bare message gets a usage hint back.
func (h *Handler) BotMessage(w http.ResponseWriter, r *http.Request) {
	data := &BotMessageRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if len(data.Attachments) == 0 {
		render.JSON(w, r, BotMessageResponse{
			Reply: "Attach one or more sales declaration files (.xlsx or .zip) to start an import.",
		})
		return
	}

	runID := h.runner.Start(r.Context(), data.Sender, data.Attachments)
	h.logger.InfoContext(r.Context(), "bot-triggered run started",
		slog.String("run_id", runID),
		slog.String("sender", data.Sender),
		slog.Int("attachments", len(data.Attachments)))

	render.JSON(w, r, BotMessageResponse{
		RunID: runID,
		Reply: "Processing " + pluralize(len(data.Attachments), "file") + ". I will notify you when the consolidation finishes.",
	})
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
