package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/davidahmann/xaidecide/internal/metrics"
)

// NewRouter wires every endpoint onto a gorilla/mux router wrapped with
// HTTP metrics.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/decision/json", h.DecisionJSON).Methods(http.MethodPost)
	r.HandleFunc("/decision/batch/json", h.DecisionBatchJSON).Methods(http.MethodPost)
	r.HandleFunc("/decision/csv", h.DecisionCSV).Methods(http.MethodPost)
	r.HandleFunc("/bulk/upload", h.BulkUpload).Methods(http.MethodPost)

	r.HandleFunc("/applications", h.SubmitApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications", h.ListApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.GetApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/review", h.ReviewApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/explanation", h.EditExplanation).Methods(http.MethodPut)

	r.HandleFunc("/policies", h.AddPolicy).Methods(http.MethodPost)
	r.HandleFunc("/policies", h.ListPolicies).Methods(http.MethodGet)
	r.HandleFunc("/policies/upload", h.UploadPolicies).Methods(http.MethodPost)
	r.HandleFunc("/policies/{domain}/{id}", h.DeletePolicy).Methods(http.MethodDelete)

	r.HandleFunc("/explanations", h.Explanations).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}
