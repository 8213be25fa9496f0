package handlers

import (
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	// Covers reports the number of records on the wall, when wired.
	Covers func() int
}

type healthResponse struct {
	Status string `json:"status"`
	Covers *int   `json:"covers,omitempty"`
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload := healthResponse{Status: "ok"}
	if h.Covers != nil {
		n := h.Covers()
		payload.Covers = &n
	}
	respondJSON(r.Context(), w, http.StatusOK, payload)
}
