// Package handlers serves the authenticated /api/v1 endpoints. Clients get
// coarse error codes; detail goes to the log.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

// Error codes returned to clients.
const (
	CodeBadInput            = "BAD_INPUT"
	CodeNoEmail             = "NO_EMAIL"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeDBError             = "DB_ERROR"
	CodeServerError         = "SERVER_ERROR"
	CodeNoAccount           = "NO_ACCOUNT"
	CodeTransferNotEnabled  = "TRANSFER_NOT_ENABLED"
	CodeBelowMinimum        = "BELOW_MINIMUM"
	CodeTransferFailed      = "TRANSFER_FAILED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// dollars renders cents as a JSON number with two decimals, e.g. 7.50.
func dollars(cents int64) json.RawMessage {
	return json.RawMessage(decimal.New(cents, -2).StringFixed(2))
}
