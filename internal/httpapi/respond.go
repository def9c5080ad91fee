// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Campusauth Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/umintramurals/campusauth/internal/auth"
)

// Caller-facing messages.
const (
	msgInvalidJSON      = "Invalid JSON input"
	msgMethodNotAllowed = "Method not allowed"
	msgNotFound         = "Not found"
	msgInternal         = "Internal server error"
	msgRateLimited      = "Too many failed login attempts. Please try again later."
	msgNotAuthenticated = "Not authenticated"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorsResponse struct {
	Success bool        `json:"success"`
	Errors  fieldErrors `json:"errors"`
}

// fieldErrors serializes as a JSON object whose keys keep check order.
type fieldErrors []auth.FieldError

// MarshalJSON writes the first message reported for each field.
func (fe fieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(fe))
	for _, e := range fe {
		if seen[e.Field] {
			continue
		}
		seen[e.Field] = true
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Field)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Message)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Success: false, Message: msg})
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields and
// trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}
