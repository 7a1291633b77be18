package shortener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sundayezeilo/shortlink/internal/auth"
	"github.com/sundayezeilo/shortlink/internal/errx"
	"github.com/sundayezeilo/shortlink/internal/httpx"
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	URL        string `json:"url"`
	CustomCode string `json:"custom_code,omitempty"`
}

// LinkResponse represents a single link in API responses.
type LinkResponse struct {
	Code      string     `json:"code"`
	LongURL   string     `json:"long_url"`
	ShortURL  string     `json:"short_url"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	Clicks    int64      `json:"clicks"`
	CreatedAt string     `json:"created_at"`
}

// PreviewResponse is returned by the click-free lookup.
type PreviewResponse struct {
	Code    string `json:"code"`
	LongURL string `json:"long_url"`
}

// OwnerLinksResponse is the owner's dashboard listing.
type OwnerLinksResponse struct {
	OwnerID     uuid.UUID      `json:"owner_id"`
	Links       []LinkResponse `json:"links"`
	TotalLinks  int            `json:"total_links"`
	TotalClicks int64          `json:"total_clicks"`
}

// Handler provides HTTP handlers for the resolution engine.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // e.g. "https://sho.rt", used to build short_url
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// CreateLink handles POST /api/links. A bearer token, when present, makes
// the caller the owner of the new link.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteKindError(w, err)
		return
	}

	if err := validateCreateRequest(req); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"error", err.Error(),
			"url", req.URL,
			"custom_code", req.CustomCode,
		)
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	shortenReq := ShortenRequest{
		LongURL:    strings.TrimSpace(req.URL),
		CustomCode: req.CustomCode,
	}
	if owner, ok := auth.OwnerFromContext(ctx); ok {
		shortenReq.OwnerID = &owner
	}

	rec, err := h.service.Shorten(ctx, shortenReq)
	if err != nil {
		h.handleCreateError(ctx, w, err)
		return
	}

	logger.InfoContext(ctx, "link created",
		"code", rec.Code,
		"custom_code", req.CustomCode != "",
		"owned", rec.OwnerID != nil,
	)

	httpx.WriteJSON(w, http.StatusCreated, h.toLinkResponse(rec))
}

// ResolveLink handles GET /{code}: it counts a click and redirects.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	code := codeParam(r)
	if err := validateCodeFormat(code); err != nil {
		logger.WarnContext(ctx, "invalid code format", "code", code, "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", err.Error(), nil)
		return
	}

	longURL, err := h.service.Resolve(ctx, code)
	if err != nil {
		h.handleLookupError(ctx, w, err, code)
		return
	}

	logger.DebugContext(ctx, "code resolved",
		"code", code,
		"user_agent", r.UserAgent(),
		"referer", r.Referer(),
	)

	httpx.Redirect(w, r, longURL)
}

// PreviewLink handles GET /api/links/{code}. No click is counted.
func (h *Handler) PreviewLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := codeParam(r)
	if err := validateCodeFormat(code); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", err.Error(), nil)
		return
	}

	longURL, err := h.service.Preview(ctx, code)
	if err != nil {
		h.handleLookupError(ctx, w, err, code)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, PreviewResponse{Code: code, LongURL: longURL})
}

// ListOwnerLinks handles GET /api/links for the authenticated owner.
func (h *Handler) ListOwnerLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := auth.OwnerFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", auth.ErrMissingToken.Error(), nil)
		return
	}

	recs, err := h.service.GetOwnerURLs(ctx, owner)
	if err != nil {
		h.requestLogger(r).ErrorContext(ctx, "listing owner links failed",
			"owner_id", owner.String(),
			"error", err.Error(),
			"error_kind", errx.KindOf(err),
			"operation", errx.OpOf(err),
		)
		httpx.WriteKindError(w, err)
		return
	}

	resp := OwnerLinksResponse{
		OwnerID: owner,
		Links:   make([]LinkResponse, 0, len(recs)),
	}
	for _, rec := range recs {
		resp.Links = append(resp.Links, h.toLinkResponse(rec))
		resp.TotalClicks += rec.Clicks
	}
	resp.TotalLinks = len(resp.Links)

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) toLinkResponse(rec URLRecord) LinkResponse {
	return LinkResponse{
		Code:      rec.Code,
		LongURL:   rec.LongURL,
		ShortURL:  h.baseURL + "/" + rec.Code,
		OwnerID:   rec.OwnerID,
		Clicks:    rec.Clicks,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleCreateError handles errors from Shorten.
func (h *Handler) handleCreateError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.Conflict:
		h.logger.WarnContext(ctx, "code conflict", logAttrs...)
		httpx.WriteError(w, http.StatusConflict, "conflict",
			"this short code is already taken",
			map[string]string{
				"hint": "pick a different custom code or omit it to get a generated one",
			})

	case errx.Invalid:
		h.logger.WarnContext(ctx, "invalid link request", logAttrs...)
		httpx.WriteKindError(w, err)

	default:
		h.logger.ErrorContext(ctx, "creating link failed", logAttrs...)
		httpx.WriteKindError(w, err)
	}
}

// handleLookupError handles errors from Resolve and Preview.
func (h *Handler) handleLookupError(ctx context.Context, w http.ResponseWriter, err error, code string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
		"code", code,
	}

	switch kind {
	case errx.NotFound:
		h.logger.InfoContext(ctx, "code not found", logAttrs...)
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist", nil)

	case errx.Invalid:
		h.logger.WarnContext(ctx, "invalid code", logAttrs...)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "invalid short code", nil)

	default:
		h.logger.ErrorContext(ctx, "resolving link failed", logAttrs...)
		httpx.WriteKindError(w, err)
	}
}

func validateCreateRequest(req HTTPCreateLinkRequest) error {
	if strings.TrimSpace(req.URL) == "" {
		return errors.New("url is required")
	}
	return nil
}

// validateCodeFormat is a cheap gate before the service is called.
func validateCodeFormat(code string) error {
	if code == "" {
		return errors.New("short code is required")
	}
	if len(code) > MaxCodeLength {
		return errors.New("invalid short code")
	}
	return nil
}

// codeParam reads the {code} route parameter, falling back to the last
// path segment when the handler is mounted outside a chi router.
func codeParam(r *http.Request) string {
	if code := chi.URLParam(r, "code"); code != "" {
		return code
	}
	return extractCodeFromPath(r.URL.Path)
}

// extractCodeFromPath returns the last path segment: "/abc123" and
// "/api/links/abc123" both give "abc123".
func extractCodeFromPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
