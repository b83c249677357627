package api

import "time"

const apiVersion = "1.0.0"

type APIResponse[T any] struct {
	Data      T             `json:"data,omitempty"`
	Error     ErrorResponse `json:"error"`
	Status    int           `json:"status,omitempty"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version"`
}

type ErrorResponse struct {
	Message          string `json:"message"`
	DetailedResponse string `json:"details,omitempty"`
}

const (
	msgRequestParseFailed = "Failed to parse request"
	msgInvalidHash        = "Invalid transaction hash"
	msgTransferNotFound   = "Transfer not found"
	msgPollingNotFound    = "No confirmation is running for this transfer"
	msgPollingFinished    = "Confirmation already finished"
	MsgInternalError      = "An internal error occurred"
)

func NewErrorResponseWithMessage(message string) APIResponse[interface{}] {
	return APIResponse[interface{}]{
		Error: ErrorResponse{
			Message: message,
		},
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   apiVersion,
	}
}

// NewErrorResponseWithDetails carries the user-facing hint in Message and
// the underlying error in details.
func NewErrorResponseWithDetails(message, details string) APIResponse[interface{}] {
	resp := NewErrorResponseWithMessage(message)
	resp.Error.DetailedResponse = details
	return resp
}

func NewSuccessResponse[T any](code int, data T) APIResponse[T] {
	return APIResponse[T]{
		Status:    code,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   apiVersion,
	}
}
