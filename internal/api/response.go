// Package api provides HTTP response utilities for FollowPipe.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/juliahq/followpipe/internal/models"
)

// cleanupResponse is the payload returned by the manual cleanup trigger.
type cleanupResponse struct {
	Success      bool                             `json:"success"`
	Expired      int                              `json:"expired"`
	Deleted      int                              `json:"deleted"`
	CurrentStats map[models.PreFollowupStatus]int `json:"current_stats"`
}

func newCleanupResponse(result models.SweepResult) cleanupResponse {
	return cleanupResponse{
		Success:      true,
		Expired:      result.Expired,
		Deleted:      result.Deleted,
		CurrentStats: result.CurrentStats,
	}
}

// fallbackErrorResponse is served when a handler's payload fails to marshal.
// Built once at startup so the failure path never depends on the encoder.
var fallbackErrorResponse = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("api: cannot marshal canned response: %v", err))
	}
	return data
}

// writeJSONResponse marshals the payload before touching the ResponseWriter,
// so an encoding error can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
