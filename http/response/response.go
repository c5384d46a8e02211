package response

import (
	"encoding/json"
	"net/http"

	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
)

// StandardResponse represents the standard API response structure
type StandardResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

const settlementFailedMessage = "payment processing failed"

// SuccessResponse sends a success response with given status code, message, and data
func SuccessResponse(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	SendJSON(w, statusCode, StandardResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response with given status code and error message
func ErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	SendJSON(w, statusCode, StandardResponse{
		Status: "error",
		Error:  errorMsg,
	})
}

// SendJSON encodes and sends a JSON response
func SendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// StatusCode maps an error kind to an HTTP status.
func StatusCode(err error) int {
	switch errors.KindOf(err) {
	case errors.Invalid:
		return http.StatusBadRequest
	case errors.Unauthorized:
		return http.StatusUnauthorized
	case errors.Forbidden:
		return http.StatusForbidden
	case errors.NotFound:
		return http.StatusNotFound
	case errors.Conflict, errors.InvalidTransition:
		return http.StatusConflict
	case errors.DependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes err with the status of its kind. Internal errors are not
// echoed to the client.
func FromError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := errors.Message(err)
	if status == http.StatusInternalServerError {
		logger.Error("Internal error: %v", err)
		msg = "internal server error"
	}
	ErrorResponse(w, status, msg)
}

// SettlementError writes errors coming out of a settlement. Only input
// problems and access denials carry their own message; everything else is
// reported as a generic processing failure.
func SettlementError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	switch errors.KindOf(err) {
	case errors.Invalid, errors.Forbidden, errors.Unauthorized:
		ErrorResponse(w, status, errors.Message(err))
	default:
		if status == http.StatusInternalServerError {
			logger.Error("Settlement error: %v", err)
		}
		ErrorResponse(w, status, settlementFailedMessage)
	}
}
