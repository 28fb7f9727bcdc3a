// Package httpapi serves the HTTP/HTTPS front: health and status probes,
// the Maps key endpoint, and the Places proxy routes.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/cherryrecorder/cherryrecorder-server/internal/places"
)

// Handler bundles the HTTP endpoints and their dependencies.
type Handler struct {
	places *places.Client
	log    *zap.Logger
}

// NewHandler builds the HTTP front over the given Places client.
func NewHandler(placesClient *places.Client, log *zap.Logger) *Handler {
	return &Handler{places: placesClient, log: log}
}

// Routes configures the full route set with CORS applied uniformly.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /maps/key", h.handleMapsKey)
	mux.HandleFunc("POST /places/nearby", h.handlePlacesNearby)
	mux.HandleFunc("POST /places/search", h.handlePlacesSearch)
	mux.HandleFunc("GET /places/details/{id}", h.handlePlaceDetails)
	mux.HandleFunc("GET /places/photo/{ref}", h.handlePlacePhoto)
	mux.HandleFunc("/", h.handleNotFound)
	return withCORS(mux)
}

// withCORS attaches the permissive CORS headers to every response and
// answers OPTIONS preflights directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")
		header.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "OK")
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, `{"status":"ok"}`)
}

func (h *Handler) handleMapsKey(w http.ResponseWriter, _ *http.Request) {
	if !h.places.Configured() {
		h.badRequest(w, "Google Maps API key is not configured on the server")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, h.places.APIKey())
}

func (h *Handler) handlePlacesNearby(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w) {
		return
	}
	var req places.NearbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Error processing request: "+err.Error())
		return
	}
	h.proxy(w, func() (*places.Upstream, error) {
		return h.places.Nearby(r.Context(), req)
	})
}

func (h *Handler) handlePlacesSearch(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w) {
		return
	}
	var req places.TextSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Error processing request: "+err.Error())
		return
	}
	if req.Query == "" {
		h.badRequest(w, "Error processing request: missing query")
		return
	}
	h.proxy(w, func() (*places.Upstream, error) {
		return h.places.TextSearch(r.Context(), req)
	})
}

func (h *Handler) handlePlaceDetails(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w) {
		return
	}
	placeID := r.PathValue("id")
	if placeID == "" {
		h.badRequest(w, "Missing Place ID in /places/details/ request.")
		return
	}
	h.proxy(w, func() (*places.Upstream, error) {
		return h.places.Details(r.Context(), placeID)
	})
}

func (h *Handler) handlePlacePhoto(w http.ResponseWriter, r *http.Request) {
	if !h.requireKey(w) {
		return
	}
	ref := r.PathValue("ref")
	if ref == "" {
		h.badRequest(w, "Missing photo reference in /places/photo/ request.")
		return
	}
	maxWidth := 0
	if v := r.URL.Query().Get("maxwidth"); v != "" {
		maxWidth, _ = strconv.Atoi(v)
	}
	h.proxy(w, func() (*places.Upstream, error) {
		return h.places.Photo(r.Context(), ref, maxWidth)
	})
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, "The resource '%s' was not found.", r.URL.Path)
}

// proxy runs one upstream call and writes its result: upstream statuses
// pass through verbatim, transport failures become a 500 with a short
// reason.
func (h *Handler) proxy(w http.ResponseWriter, call func() (*places.Upstream, error)) {
	result, err := call()
	if err != nil {
		h.log.Error("places upstream call failed", zap.Error(err))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, "upstream request failed")
		return
	}

	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

func (h *Handler) requireKey(w http.ResponseWriter) bool {
	if h.places.Configured() {
		return true
	}
	h.badRequest(w, "Google Maps API key is not configured on the server")
	return false
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = fmt.Fprint(w, message)
}
