package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	links    ports.LinkService
	redirect ports.Redirector
	metrics  *Metrics
	log      zerolog.Logger
	baseURL  string
}

func NewHTTPHandler(links ports.LinkService, redirect ports.Redirector, metrics *Metrics, log zerolog.Logger, baseURL string) *HTTPHandler {
	return &HTTPHandler{
		links:    links,
		redirect: redirect,
		metrics:  metrics,
		log:      log,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// LinkResponse is a Link plus its public short URL.
type LinkResponse struct {
	*domain.Link
	ShortURL string `json:"short_url"`
}

// SetAliasRequest payload
type SetAliasRequest struct {
	Alias string `json:"alias"`
}

// SetRequestLimitRequest payload. Limit is accepted as a shorter spelling.
type SetRequestLimitRequest struct {
	RequestLimit *int64 `json:"requestLimit"`
	Limit        *int64 `json:"limit"`
}

// Create Link
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLinkInput
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.links.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := h.linkResponse(link)
	w.Header().Set("Location", resp.ShortURL)
	writeJSON(w, http.StatusCreated, resp)
}

// Stats lists the usage of every active link.
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.ListStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Info returns the full record, deleted links included.
func (h *HTTPHandler) Info(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Lookup(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.linkResponse(link))
}

func (h *HTTPHandler) SetAlias(w http.ResponseWriter, r *http.Request) {
	var req SetAliasRequest
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.links.SetAlias(r.Context(), chi.URLParam(r, "identifier"), req.Alias)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.linkResponse(link))
}

func (h *HTTPHandler) SetRequestLimit(w http.ResponseWriter, r *http.Request) {
	var req SetRequestLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit := req.RequestLimit
	if limit == nil {
		limit = req.Limit
	}
	if limit == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "requestLimit is required"})
		return
	}

	link, err := h.links.SetRequestLimit(r.Context(), chi.URLParam(r, "identifier"), *limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.linkResponse(link))
}

// Delete Link
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Delete(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "URL has been deleted"})
}

// Redirect to original URL
func (h *HTTPHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	target, err := h.redirect.Redirect(r.Context(), chi.URLParam(r, "identifier"), clientIP(r))
	h.metrics.ObserveRedirect(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (h *HTTPHandler) linkResponse(link *domain.Link) LinkResponse {
	return LinkResponse{Link: link, ShortURL: h.baseURL + "/" + link.Alias}
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP returns the caller address without its port. RealIP has already
// replaced RemoteAddr when a proxy header is present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
