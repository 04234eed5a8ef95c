// Package httpadapter exposes the prediction pipeline over HTTP. Upload
// validation (extension allow-list, size cap) lives here; everything behind
// it only ever sees validated bytes.
package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/car-vision-api/internal/config"
	"github.com/kirillkom/car-vision-api/internal/core/domain"
	"github.com/kirillkom/car-vision-api/internal/core/ports"
	"github.com/kirillkom/car-vision-api/internal/observability/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
}

type Router struct {
	cfg      config.Config
	submitUC ports.PredictionSubmitter
	removeUC ports.PredictionRemover
	statsUC  ports.StatsProvider
	repo     ports.PredictionRepository
	storage  ports.ImageStorage
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	submitUC ports.PredictionSubmitter,
	removeUC ports.PredictionRemover,
	statsUC ports.StatsProvider,
	repo ports.PredictionRepository,
	storage ports.ImageStorage,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		submitUC: submitUC,
		removeUC: removeUC,
		statsUC:  statsUC,
		repo:     repo,
		storage:  storage,
		metrics:  m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/api/predict", rt.predict)
	mux.HandleFunc("/api/predictions", rt.listPredictions)
	mux.HandleFunc("/api/predictions/", rt.predictionByID)
	mux.HandleFunc("/api/stats", rt.stats)
	mux.HandleFunc("/api/stats/export", rt.exportStats)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWait)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = corsMiddleware(handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type predictResponse struct {
	PredictedClass string              `json:"predicted_class"`
	Confidence     float64             `json:"confidence"`
	AllPredictions domain.Distribution `json:"all_predictions"`
	PredictionID   int64               `json:"prediction_id"`
	ImagePath      string              `json:"image_path"`
	Message        string              `json:"message"`
}

func (rt *Router) predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if rt.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid file type, allowed: .jpg, .jpeg, .png, .gif, .bmp",
		})
		return
	}

	rec, err := rt.submitUC.Submit(r.Context(), fileHeader.Filename, file)
	if err != nil {
		if rt.metrics != nil && domain.IsKind(err, domain.ErrInvalidImage) {
			rt.metrics.RecordClassificationFailure("api")
		}
		rt.writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordPrediction("api", rec.Label, rec.Confidence)
	}

	writeJSON(w, http.StatusOK, predictResponse{
		PredictedClass: rec.Label,
		Confidence:     rec.Confidence,
		AllPredictions: rec.Distribution,
		PredictionID:   rec.ID,
		ImagePath:      rec.ImagePath,
		Message:        "Prediction successful",
	})
}

// listPredictions rejects malformed paging outright; clamping only caps the
// upper bound.
func (rt *Router) listPredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "skip must be a non-negative integer"})
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	page, err := rt.repo.List(r.Context(), skip, limit)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) predictionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/predictions/")
	rawID, sub, hasSub := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prediction id must be an integer"})
		return
	}

	if hasSub {
		if sub != "image" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		rt.serveImage(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := rt.repo.GetByID(r.Context(), id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		receipt, err := rt.removeUC.Remove(r.Context(), id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		if rt.metrics != nil {
			rt.metrics.RecordPredictionDeleted("api")
			if !receipt.ImageReleased {
				rt.metrics.RecordImageCleanupFailure("api", "delete")
			}
		}
		response := map[string]any{
			"message": "Prediction deleted successfully",
			"id":      receipt.ID,
		}
		if receipt.Warning != "" {
			response["warning"] = receipt.Warning
		}
		writeJSON(w, http.StatusOK, response)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// serveImage streams the uploaded image back. The record can outlive the
// file (a failed release during delete, a wiped upload dir), so a missing
// file is a 404 on the image resource, not a server error.
func (rt *Router) serveImage(w http.ResponseWriter, r *http.Request, id int64) {
	rec, err := rt.repo.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, err)
		return
	}

	img, err := rt.storage.Open(r.Context(), rec.ImagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "image file is no longer available"})
			return
		}
		rt.writeError(w, err)
		return
	}
	defer img.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(rec.ImagePath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, img)
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	summary, err := rt.statsUC.Summary(r.Context())
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) exportStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	// Render into memory first so an export failure can still produce a
	// proper error response instead of a truncated download.
	var buf bytes.Buffer
	if err := rt.statsUC.ExportReport(r.Context(), &buf); err != nil {
		rt.writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordStatsExport("api")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="prediction-stats.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
