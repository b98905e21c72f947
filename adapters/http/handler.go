// Package http exposes the object-write pipeline as a REST surface.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/adapters/metrics"
	"github.com/mobibase/mobibase/app"
	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// Request headers understood by the REST surface.
const (
	HeaderMasterKey    = "X-Mobibase-Master-Key"
	HeaderSessionToken = "X-Mobibase-Session-Token"
	HeaderInstallation = "X-Mobibase-Installation-Id"

	// HeaderLegacyClient marks clients that cannot decode field-deletion
	// markers; deletions are flattened to null for them.
	HeaderLegacyClient = "X-Mobibase-Legacy-Client"
)

const maxBodyBytes = 10 << 20

// VersionResponse is the /version payload.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// Handler translates REST calls into write pipeline requests.
type Handler struct {
	writes    *app.WriteService
	sessions  *app.AuthService
	storage   ports.Storage
	masterKey string
	logger    zerolog.Logger
}

// NewHandler creates the REST handler. storage is used with master
// access to load the pre-write object for updates.
func NewHandler(writes *app.WriteService, sessions *app.AuthService, storage ports.Storage, masterKey string, logger zerolog.Logger) *Handler {
	return &Handler{
		writes:    writes,
		sessions:  sessions,
		storage:   storage,
		masterKey: masterKey,
		logger:    logger,
	}
}

// CreateObject handles POST /classes/{className}.
func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, chi.URLParam(r, "className"), "")
}

// UpdateObject handles PUT /classes/{className}/{objectId}.
func (h *Handler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, chi.URLParam(r, "className"), chi.URLParam(r, "objectId"))
}

// createFor returns a create handler pinned to a built-in class.
func (h *Handler) createFor(className string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleWrite(w, r, className, "")
	}
}

// updateFor returns an update handler pinned to a built-in class.
func (h *Handler) updateFor(className string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleWrite(w, r, className, chi.URLParam(r, "objectId"))
	}
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, className, objectID string) {
	ctx := r.Context()

	auth, err := h.resolveAuth(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := decodeBody(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req := app.WriteRequest{
		ClassName:            className,
		Data:                 data,
		Auth:                 auth,
		ClientSupportsDelete: r.Header.Get(HeaderLegacyClient) == "",
	}

	if objectID != "" {
		query := object.ByID(objectID)
		req.Query = &query

		original, err := h.fetchOriginal(r, className, objectID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		req.OriginalData = original
	}

	result, err := h.writes.Write(ctx, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	if result.Location != "" {
		w.Header().Set("Location", result.Location)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result.Body); err != nil {
		h.logger.Error().Err(err).Msg("failed to write response body")
	}
}

// resolveAuth derives the caller identity from the request headers.
func (h *Handler) resolveAuth(r *http.Request) (app.Auth, error) {
	installationID := r.Header.Get(HeaderInstallation)

	if key := r.Header.Get(HeaderMasterKey); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.masterKey)) != 1 {
			return app.Auth{}, apierr.New(apierr.CodeOperationForbidden, "unauthorized")
		}
		return app.Auth{Master: true, InstallationID: installationID}, nil
	}

	if token := r.Header.Get(HeaderSessionToken); token != "" {
		auth, err := h.sessions.ResolveSessionToken(r.Context(), token)
		if err != nil {
			return app.Auth{}, err
		}
		if auth.InstallationID == "" {
			auth.InstallationID = installationID
		}
		return auth, nil
	}

	return app.Auth{InstallationID: installationID}, nil
}

// fetchOriginal loads the pre-write object with master access so the
// pipeline can diff against it. Missing objects still flow into the
// pipeline, which reports not-found with the caller's visibility.
func (h *Handler) fetchOriginal(r *http.Request, className, objectID string) (object.Map, error) {
	matches, err := h.storage.Find(r.Context(), className, object.ByID(objectID), ports.ReadOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// decodeBody parses the JSON payload and rewrites wire-format field
// operations into their typed markers.
func decodeBody(r *http.Request) (object.Map, error) {
	if r.Body == nil {
		return object.Map{}, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, apierr.New(apierr.CodeOtherCause, "Failed to read request body")
	}
	if len(body) == 0 {
		return object.Map{}, nil
	}
	var data object.Map
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, apierr.New(apierr.CodeOtherCause, "invalid JSON")
	}
	decodeFieldOps(data)
	return data, nil
}

// decodeFieldOps replaces {"__op": "Delete"} values with the typed
// deletion marker. Only top-level fields carry operations.
func decodeFieldOps(data object.Map) {
	for field, value := range data {
		op, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := op["__op"].(string); name == "Delete" {
			data[field] = object.DeleteOp{}
		}
	}
}

// writeError renders an error in the REST wire format.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	message := "internal error"
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(code))
	json.NewEncoder(w).Encode(map[string]any{
		"code":  int(code),
		"error": message,
	})
}

// Health handles liveness checks.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Version returns the service version.
func Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version: "dev",
		Service: "mobibase",
	})
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics     *metrics.Collector
	MetricsPath string
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))

		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	// Health endpoints (no auth required)
	r.Get("/health", Health)
	r.Get("/health/live", Health)
	r.Get("/version", Version)

	// Generic classes
	r.Post("/classes/{className}", h.CreateObject)
	r.Put("/classes/{className}/{objectId}", h.UpdateObject)

	// Built-in class aliases
	r.Post("/users", h.createFor(app.ClassUser))
	r.Put("/users/{objectId}", h.updateFor(app.ClassUser))
	r.Post("/sessions", h.createFor(app.ClassSession))
	r.Put("/sessions/{objectId}", h.updateFor(app.ClassSession))
	r.Post("/installations", h.createFor(app.ClassInstallation))
	r.Put("/installations/{objectId}", h.updateFor(app.ClassInstallation))
	r.Post("/roles", h.createFor(app.ClassRole))
	r.Put("/roles/{objectId}", h.updateFor(app.ClassRole))
	r.Post("/products", h.createFor(app.ClassProduct))
	r.Put("/products/{objectId}", h.updateFor(app.ClassProduct))

	return r
}
