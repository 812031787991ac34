package models

// APIStatus is the status field of an APIResponse.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every API endpoint except /health and /metrics.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage is Success with a human-readable note, e.g. "Appointment booked".
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error builds an error envelope without a result.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ErrorWithResult builds an error envelope that still carries data, such as
// the assistant's apology when the appointment store failed mid-turn.
func ErrorWithResult(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message, Result: result}
}
