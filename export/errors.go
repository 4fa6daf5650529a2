package export

import (
	"errors"
	"net/http"
)

// Error is a terminal export failure with a stable wire code and HTTP status.
// The soft order-load-skip case is intentionally absent: failed order loads
// are logged and excluded from output, never surfaced.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingParameters = &Error{Code: "missing_params", Message: "Missing required parameters", Status: http.StatusBadRequest}
	ErrInvalidDateFormat = &Error{Code: "invalid_date", Message: "Invalid date format", Status: http.StatusBadRequest}
	ErrInvalidFormat     = &Error{Code: "invalid_format", Message: "Invalid export format", Status: http.StatusBadRequest}
	ErrNoOrdersFound     = &Error{Code: "no_orders", Message: "No orders found within the selected date range", Status: http.StatusNotFound}
	ErrFileCreation      = &Error{Code: "file_creation_failed", Message: "Failed to create the export file", Status: http.StatusInternalServerError}
	ErrPDFEngine         = &Error{Code: "pdf_engine_unavailable", Message: "PDF engine failed to initialize", Status: http.StatusInternalServerError}
)

// AsError extracts the typed export error, if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
