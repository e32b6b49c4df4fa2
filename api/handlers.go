package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/dataset"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/evaluate"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/model"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/monitor"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/pipeline"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/runstore"
	"github.com/MoeenUddin01/ResNet-Based-Skin-Lesion-Classification-System/train"
)

const maxUploadBytes = 32 << 20

type handlers struct {
	service *pipeline.Service
	hub     *monitor.Hub
	log     *zap.Logger
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/train", h.handleTrain)
	mux.HandleFunc("POST /api/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/runs", h.handleRuns)
	mux.Handle("GET /api/ws/progress", h.hub)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "predictor": "ready"}
	if !h.service.Predictor().Ready() {
		status["predictor"] = "no checkpoint loaded"
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTrain kicks off a training run in the background and returns
// immediately; progress streams over the websocket and lands in the run
// store.
func (h *handlers) handleTrain(w http.ResponseWriter, r *http.Request) {
	onEpoch := func(u train.EpochUpdate) {
		h.hub.Broadcast(monitor.EventEpoch, u)
	}
	onDone := func(result *train.Result, err error) {
		if err != nil {
			h.log.Error("training run failed", zap.Error(err))
			h.hub.Broadcast(monitor.EventRunFinished, map[string]string{"state": "failed", "error": err.Error()})
			return
		}
		h.hub.Broadcast(monitor.EventRunFinished, result)
	}

	// The run must outlive the request.
	err := h.service.StartTrain(context.Background(), onEpoch, onDone)
	if errors.Is(err, pipeline.ErrTrainingInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	h.hub.Broadcast(monitor.EventRunStarted, map[string]string{"state": train.StateInit})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "training started"})
}

type evaluateRequest struct {
	Checkpoint string `json:"checkpoint"`
	Split      string `json:"split"`
}

func (h *handlers) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Split == "" {
		req.Split = string(dataset.SplitTest)
	}

	metrics, err := h.service.Evaluate(r.Context(), req.Checkpoint, req.Split)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, metrics)
	case errors.Is(err, dataset.ErrUnknownSplit):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, evaluate.ErrEmptySplit):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrCorruptCheckpoint), errors.Is(err, model.ErrEncodingMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.log.Error("evaluation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "evaluation failed"})
	}
}

type predictionResult struct {
	Label         string             `json:"label,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// handlePredict accepts one or more images as multipart form files under the
// "images" field and returns one result per file, in upload order.
func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	predictor := h.service.Predictor()
	if !predictor.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no checkpoint loaded"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no images uploaded"})
		return
	}

	images := make([][]byte, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable upload"})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable upload"})
			return
		}
		images = append(images, data)
	}

	results := predictor.Predict(r.Context(), images)
	out := make([]predictionResult, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = predictionResult{Error: res.Err.Error()}
			continue
		}
		out[i] = predictionResult{Label: res.Label, Probabilities: res.Probabilities}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	runs, err := h.service.Runs(limit)
	if err != nil {
		h.log.Error("listing runs failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []runstore.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
