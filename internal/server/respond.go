package server

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// All endpoints speak the same envelope: "status" is success or error,
// with "message" naming the problem on error. List endpoints return
// bare arrays for client compatibility.

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Write response failed")
	}
}

func writeSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"status":  "error",
		"message": message,
	})
}
