package handlers

import (
	"net/http"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Routes wires every endpoint. metrics may be nil.
func (h *Handler) Routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict/image", h.PredictFromImage)

	mux.HandleFunc("POST /sessions", h.CreateSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /sessions/{id}/gallery", h.SelectFromGallery)
	mux.HandleFunc("POST /sessions/{id}/camera", h.CapturePhoto)
	mux.HandleFunc("GET /sessions/{id}/permission/camera", h.GetPermission)
	mux.HandleFunc("POST /sessions/{id}/permission/camera", h.AnswerPermission)
	mux.HandleFunc("DELETE /sessions/{id}/permission/camera", h.ResetPermission)
	mux.HandleFunc("GET /sessions/{id}/preview", h.Preview)
	mux.HandleFunc("POST /sessions/{id}/classify", h.Classify)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return enableCORS(mux)
}
