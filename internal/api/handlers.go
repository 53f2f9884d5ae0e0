package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/davidahmann/xaidecide/internal/contextstore"
	"github.com/davidahmann/xaidecide/internal/decision"
	"github.com/davidahmann/xaidecide/internal/intake"
	"github.com/davidahmann/xaidecide/internal/policy"
	"github.com/davidahmann/xaidecide/internal/review"
	"github.com/davidahmann/xaidecide/pkg/types"
)

const (
	maxUploadBytes = 10 << 20
	healthTimeout  = 10 * time.Second
)

type Handler struct {
	Engine  *decision.Engine
	Reviews *review.Service
	Context *contextstore.Store
	Log     *zap.Logger

	// ModelHealth reports whether the model backend is reachable.
	ModelHealth func(ctx context.Context) error
	ModelName   string
}

func (h *Handler) DecisionJSON(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	verdict, err := h.Engine.Evaluate(r.Context(), r.URL.Query().Get("decision_type"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *Handler) DecisionBatchJSON(w http.ResponseWriter, r *http.Request) {
	var payload []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	h.evaluateBatch(w, r, payload)
}

func (h *Handler) DecisionCSV(w http.ResponseWriter, r *http.Request) {
	_, data, ok := readUpload(w, r)
	if !ok {
		return
	}
	applicants, err := intake.ParseCSV(data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.evaluateBatch(w, r, applicants)
}

func (h *Handler) evaluateBatch(w http.ResponseWriter, r *http.Request, applicants []map[string]any) {
	results, err := h.Engine.EvaluateBatch(r.Context(), r.URL.Query().Get("decision_type"), applicants)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

// BulkUpload evaluates every applicant in a .csv, .json or .txt file and
// files each one as an application awaiting review.
func (h *Handler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}
	applicants, err := intake.ParseApplicants(filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	apps, err := h.Reviews.SubmitBatch(r.Context(), r.URL.Query().Get("decision_type"), applicants)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"count":        len(apps),
		"file_type":    fileType(filename),
		"applications": apps,
	})
}

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	app, err := h.Reviews.Submit(r.Context(), r.URL.Query().Get("decision_type"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.Reviews.List(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Reviews.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) ReviewApplication(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	app, err := h.Reviews.Review(r.Context(), mux.Vars(r)["id"], q.Get("decision"), q.Get("comment"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) EditExplanation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Explanation string `json:"explanation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	app, err := h.Reviews.EditExplanation(r.Context(), mux.Vars(r)["id"], payload.Explanation)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) AddPolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.Context.AddPolicy(q.Get("domain"), q.Get("policy_text"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "policy": p})
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Context.ListPolicies(r.URL.Query().Get("domain"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	removed, err := h.Context.RemovePolicy(vars["domain"], vars["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "policy not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "policy deleted"})
}

func (h *Handler) UploadPolicies(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if _, err := types.ParsePolicyDomain(domain); err != nil {
		h.writeError(w, err)
		return
	}
	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}
	texts, err := policy.ParseUpload(filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}

	added := make([]types.Policy, 0, len(texts))
	for _, text := range texts {
		p, err := h.Context.AddPolicy(domain, text)
		if err != nil {
			h.writeError(w, err)
			return
		}
		added = append(added, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(added), "policies": added})
}

func (h *Handler) Explanations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records, err := h.Engine.Explanations(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ModelHealth == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "model": h.ModelName, "available": true})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.ModelHealth(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "unhealthy",
			"model":     h.ModelName,
			"available": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "model": h.ModelName, "available": true})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && h.Log != nil {
		h.Log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// readUpload reads the multipart "file" field.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return "", nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file"})
		return "", nil, false
	}
	return header.Filename, data, true
}

func fileType(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 && i < len(filename)-1 {
		return strings.ToLower(filename[i+1:])
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
