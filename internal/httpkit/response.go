// Package httpkit holds the small HTTP helpers shared by the gateway and its
// middleware: JSON bodies, the error envelope, CORS and Postgres error codes.
package httpkit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// ErrorBody is the payload of every non-2xx JSON response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// DecodeJSON decodes exactly one JSON document with no unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after json body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteBytes writes a binary body with an explicit length.
func WriteBytes(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: msg, Details: details}})
}
