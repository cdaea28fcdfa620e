package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"batched-inference/internal/domain"
	"batched-inference/internal/infra/logging"
	"batched-inference/internal/usecase"
)

// generateRequest is the body of POST /generate.
type generateRequest struct {
	Inputs *string `json:"inputs"`
}

type generateResponse struct {
	ID            string `json:"id"`
	GeneratedText string `json:"generated_text,omitempty"`
	Tokens        int    `json:"tokens,omitempty"`
	Error         string `json:"error,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

const maxBodyBytes = 1 << 20

// generateHandler submits the prompt and blocks until its batch result is
// ready. A backend failure is still a 200 carrying an error field; only the
// wait timeout and unexpected failures are 500s. An empty string is a valid
// prompt; only a missing or non-string field is rejected.
func generateHandler(genUC usecase.GenerationUseCase, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Inputs == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing inputs"})
			return
		}

		res, err := genUC.Generate(r.Context(), *req.Inputs)
		if err != nil {
			l := logging.With(logging.WithRequestID(r.Context(), res.ID), logger)
			switch {
			case errors.Is(err, domain.ErrTimedOut):
				l.Warn().Msg("generation timed out")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Timeout"})
			case errors.Is(err, context.Canceled):
				// shutdown drain expired or the client went away
				l.Warn().Msg("generation abandoned")
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Server shutting down"})
			default:
				l.Error().Err(err).Msg("generation failed")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			}
			return
		}

		writeJSON(w, http.StatusOK, generateResponse{
			ID:            res.ID,
			GeneratedText: res.Text,
			Tokens:        res.Tokens,
			Error:         res.Error,
		})
	}
}

func statsHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := statsUC.Snapshot(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to get stats"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
