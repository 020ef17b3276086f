// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/samber/oops"

	"github.com/authd-dev/authd/internal/auth"
)

// InternalMessage is the only message clients see for unexpected failures.
const InternalMessage = "internal server error"

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client may disconnect
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindConflict:
		return http.StatusBadRequest
	case auth.KindUnauthorized, auth.KindInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the client-facing body for err. Only expected errors
// expose their message.
func errorBody(err error) (int, ErrorBody) {
	kind := auth.KindOf(err)
	body := ErrorBody{Status: "error", Message: InternalMessage}
	if !kind.Expected() {
		return StatusFor(kind), body
	}

	body.Message = err.Error()
	if oopsErr, ok := oops.AsOops(err); ok {
		if fields, ok := oopsErr.Context()["fields"].([]FieldError); ok {
			body.Errors = fields
		}
	}
	return StatusFor(kind), body
}
