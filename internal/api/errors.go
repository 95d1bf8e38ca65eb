// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/submaker/submaker/internal/loginlock"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/translate"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses. Provider errors keep
// their taxonomy code in the body so clients can tell quota from outage.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, translate.ErrNoSource), errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, loginlock.ErrQueueCongestion):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "queue_congestion"})
	default:
		if oe, ok := providers.AsOpError(err); ok {
			writeJSON(w, statusForCode(oe), errorBody{Error: oe.UserMessage(), Code: string(oe.Code)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func statusForCode(oe *providers.OpError) int {
	switch oe.Code {
	case providers.CodeRateLimit:
		return http.StatusTooManyRequests
	case providers.CodeQuotaExceeded, providers.CodeAuthentication:
		return http.StatusForbidden
	case providers.CodeTimeout:
		return http.StatusGatewayTimeout
	case providers.CodeClientError, providers.CodeInvalidSource:
		return http.StatusBadRequest
	case providers.CodeMaxTokens, providers.CodeProhibitedContent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
