package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"abr-pipeline/internal/media"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	jsonContentType     = "application/json"
)

// Handler exposes orchestrator HTTP endpoints using go-chi.
type Handler struct {
	orch *Orchestrator
	log  *slog.Logger
}

// NewHandler returns a Handler that uses the given Orchestrator and Logger.
// Request counts are recorded by metrics.RequestMiddleware.
func NewHandler(orch *Orchestrator, log *slog.Logger) *Handler {
	return &Handler{orch: orch, log: log}
}

// Routes mounts the asset endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/assets/{asset_id}", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Delete("/", h.Cancel)
		r.Post("/ingest", h.Ingest)
		r.Get("/manifest.json", h.GetManifest)
		r.Get("/master.m3u8", h.GetMaster)
		r.Get("/renditions/{rendition}/index.m3u8", h.GetRenditionPlaylist)
	})
}

type ingestBody struct {
	Collection media.CollectionKind `json:"collection"`
	SourceKey  string               `json:"source_key"`
	SourceSize int64                `json:"source_size"`
}

// Ingest handles POST /assets/{asset_id}/ingest.
// Body: { "collection": "videos", "source_key": "media/videos/a1/original", "source_size": 1048576 }.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")

	var body ingestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid ingest body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	handle, err := h.orch.Ingest(r.Context(), IngestRequest{
		AssetID:    assetID,
		Collection: body.Collection,
		SourceKey:  body.SourceKey,
		SourceSize: body.SourceSize,
	})
	if err != nil {
		status := ingestStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("ingest failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		} else {
			h.log.Info("ingest rejected", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyProcessing):
		return http.StatusConflict
	case errors.Is(err, ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, media.ErrConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidAsset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Cancel handles DELETE /assets/{asset_id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")
	if err := h.orch.Cancel(r.Context(), assetID); err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("cancel failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetStatus handles GET /assets/{asset_id}.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.orch.Status(chi.URLParam(r, "asset_id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetManifest handles GET /assets/{asset_id}/manifest.json.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")
	m, err := h.orch.Manifest(r.Context(), assetID)
	if err != nil {
		h.readFailed(w, assetID, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetMaster handles GET /assets/{asset_id}/master.m3u8.
func (h *Handler) GetMaster(w http.ResponseWriter, r *http.Request) {
	h.servePlaylist(w, r, "")
}

// GetRenditionPlaylist handles GET /assets/{asset_id}/renditions/{rendition}/index.m3u8.
func (h *Handler) GetRenditionPlaylist(w http.ResponseWriter, r *http.Request) {
	rendition := chi.URLParam(r, "rendition")
	if rendition == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.servePlaylist(w, r, rendition)
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request, rendition string) {
	assetID := chi.URLParam(r, "asset_id")
	data, err := h.orch.Playlist(r.Context(), assetID, rendition)
	if err != nil {
		h.readFailed(w, assetID, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) readFailed(w http.ResponseWriter, assetID string, err error) {
	switch {
	case errors.Is(err, ErrAssetNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrInvalidAsset):
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.log.Error("read asset output", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
