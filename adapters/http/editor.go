package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/adapters/websocket"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

var (
	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("missing required dependency")

	errInvalidCustomized = errors.New("invalid customized document")
)

const maxBodyBytes = 1 << 20

// Editor error codes.
const (
	CodeInvalidSession = "customize_invalid_session"
	CodeSideTaken      = "customize_side_taken"
	CodeInvalidSetting = "customize_invalid_setting"
	CodeSaveFailed     = "customize_save_failed"
)

// EditorDeps contains dependencies for EditorHandler.
type EditorDeps struct {
	Saves   *app.SaveService
	Hub     *websocket.Hub
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// EditorHandler serves the editor endpoints under /customize.
type EditorHandler struct {
	saves   *app.SaveService
	hub     *websocket.Hub
	metrics *metrics.Collector
	logger  zerolog.Logger
	apiRoot string
}

// NewEditorHandler creates the editor handler. apiRoot resolves the
// resource ids of customized documents.
func NewEditorHandler(deps EditorDeps, apiRoot string) (*EditorHandler, error) {
	if deps.Saves == nil {
		return nil, fmt.Errorf("%w: Saves", ErrMissingDependency)
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("%w: Hub", ErrMissingDependency)
	}
	return &EditorHandler{
		saves:   deps.Saves,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		apiRoot: apiRoot,
	}, nil
}

// SessionResponse is the body of a created session.
type SessionResponse struct {
	Session string `json:"session"`
	Preview string `json:"preview"`
	Panel   string `json:"panel"`
}

// CreateSession opens a sync session and returns the relay paths of its two
// sides.
func (h *EditorHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.hub.CreateSession()
	base := "/customize/sessions/" + id + "/sync/"
	writeJSON(w, http.StatusCreated, SessionResponse{
		Session: id,
		Preview: base + string(syncchan.SidePreview),
		Panel:   base + string(syncchan.SidePanel),
	})
}

// Sync attaches a websocket to one side of a session.
func (h *EditorHandler) Sync(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	side, err := syncchan.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusNotFound, rest.CodeNoRoute, err.Error())
		return
	}

	err = h.hub.Serve(w, r, session, side)
	switch {
	case err == nil:
	case errors.Is(err, websocket.ErrUnknownSession):
		writeError(w, http.StatusNotFound, CodeInvalidSession, "Unknown editing session.")
	case errors.Is(err, websocket.ErrSideTaken):
		writeError(w, http.StatusConflict, CodeSideTaken, err.Error())
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidSession, err.Error())
	}
}

// customizeRequest is the body of save and validate. Customized is a JSON
// object or a string holding one.
type customizeRequest struct {
	Customized json.RawMessage `json:"customized"`
}

// Save sanitizes, validates and commits every staged resource setting.
func (h *EditorHandler) Save(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, true)
}

// Validate runs strict validation over every staged resource setting
// without committing.
func (h *EditorHandler) Validate(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, false)
}

func (h *EditorHandler) process(w http.ResponseWriter, r *http.Request, commit bool) {
	staged, err := h.readCustomized(r)
	switch {
	case errors.Is(err, errInvalidCustomized):
		writeError(w, http.StatusBadRequest, rest.CodeInvalidParam, "Invalid parameter(s): customized")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, rest.CodeInvalidJSON, "Invalid JSON body passed.")
		return
	}

	run := h.saves.Validate
	if commit {
		run = h.saves.Save
	}
	result, err := run(r.Context(), staged)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error().Err(err).Bool("commit", commit).Msg("resource settings failed")
		writeError(w, status, CodeSaveFailed, "The resource settings could not be processed.")
		return
	}

	h.record(result, commit)
	writeJSON(w, http.StatusOK, result)
}

func (h *EditorHandler) record(result *app.SaveResult, commit bool) {
	if h.metrics == nil {
		return
	}
	for _, fields := range result.Validity {
		for _, fe := range fields {
			h.metrics.RecordValidationFailure(fe.Field)
		}
	}
	if !commit {
		return
	}
	for range result.Saved {
		h.metrics.RecordSave(true)
	}
	for range result.Errors {
		h.metrics.RecordSave(false)
	}
}

func (h *EditorHandler) readCustomized(r *http.Request) (*app.Overrides, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return app.NewOverrides(h.apiRoot), nil
	}

	var req customizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	raw := []byte(req.Customized)
	var text string
	if json.Unmarshal(raw, &text) == nil {
		raw = []byte(text)
	}
	o, err := app.ParseCustomized(raw, h.apiRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidCustomized, err)
	}
	return o, nil
}

// SettingResponse is the body of the settings endpoint.
type SettingResponse struct {
	ID    resource.ID       `json:"id"`
	Label string            `json:"label"`
	State string            `json:"state"`
	Value resource.Resource `json:"value"`
}

// Setting returns the current value of the setting named by ?id=. A value
// staged in ?customized= wins; otherwise the setting's last known value,
// the live resource or the schema default is returned.
func (h *EditorHandler) Setting(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := resource.ParseID(q.Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidSetting, err.Error())
		return
	}

	a, err := h.saves.Adapter(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidSetting, err.Error())
		return
	}

	ctx := r.Context()
	if raw := q.Get(ParamCustomized); raw != "" {
		o, err := app.ParseCustomized([]byte(raw), h.apiRoot)
		if err != nil {
			writeError(w, http.StatusBadRequest, rest.CodeInvalidParam, "Invalid parameter(s): customized")
			return
		}
		ctx = app.WithOverrides(ctx, o)
	}

	value, err := a.Value(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("setting", string(id)).Msg("read setting value")
		writeError(w, http.StatusInternalServerError, rest.CodeInternal, "The setting value could not be read.")
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{ID: id, Label: id.Label(), State: string(a.State()), Value: value})
}
