package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Message string  `json:"message"`
	Errors  []Issue `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func writeInvalid(w http.ResponseWriter, message string, issues []Issue) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Message: message, Errors: issues})
}

// writeFailure logs err with the request id and answers 500 with a fixed message.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.logger.Error().
		Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}

// decodeAndValidate reads the JSON body into dst and runs the validator. On
// failure it writes the 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, invalidMessage string) bool {
	if err := readJSON(w, r, dst); err != nil {
		writeInvalid(w, invalidMessage, []Issue{{Path: "body", Code: "invalid_json", Message: err.Error()}})
		return false
	}
	if issues := validateStruct(dst); len(issues) > 0 {
		writeInvalid(w, invalidMessage, issues)
		return false
	}
	return true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}
