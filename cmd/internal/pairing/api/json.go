package pairingapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	errEmptyBody    = errors.New("empty body")
	errTrailingData = errors.New("extra data after JSON object")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RequestID echoes X-Request-ID when the request logging middleware set one.
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{
		Code:      code,
		Message:   msg,
		RequestID: w.Header().Get("X-Request-ID"),
	}})
}

// writeDecodeError reports a decodeJSON failure: 413 for oversized bodies, 400 otherwise.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	case errors.Is(err, errEmptyBody):
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}
