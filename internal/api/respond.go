// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	"grimm.is/pernet/internal/errors"
)

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithErr maps err's kind to a status code.
func respondWithErr(w http.ResponseWriter, err error) {
	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.GetKind(err).String(),
	}
	respondWithJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindPermission:
		return http.StatusForbidden
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindExhausted:
		return http.StatusInsufficientStorage
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
