package ipc

import (
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"time"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

func setJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
}

// respondJSON sends payload with status 200.
func respondJSON(w http.ResponseWriter, payload any) {
	respondStatus(w, http.StatusOK, payload)
}

func respondStatus(w http.ResponseWriter, status int, payload any) {
	setJSONHeaders(w)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	setJSONHeaders(w)
	w.WriteHeader(status)

	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Code      string `json:"code,omitempty"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var vbErr *vberrors.Error
	if stdliberrors.As(err, &vbErr) {
		response.Code = string(vbErr.Code)
		response.Message = vbErr.Public()
		response.Retryable = vbErr.Retryable
	} else if err != nil {
		response.Message = err.Error()
	}

	response.Error = response.Message
	_ = json.NewEncoder(w).Encode(response)
}

// statusForError maps an error code to the HTTP status reported for it.
func statusForError(err error) int {
	switch vberrors.GetCode(err) {
	case vberrors.ErrCodeWidgetNotFound:
		return http.StatusNotFound
	case vberrors.ErrCodeInvalidInput, vberrors.ErrCodeSpecEncode, vberrors.ErrCodeSpecDecode, vberrors.ErrCodePayloadEncode:
		return http.StatusBadRequest
	case vberrors.ErrCodeStorageRead, vberrors.ErrCodeStorageWrite:
		if vberrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func httpError(w http.ResponseWriter, msg string, status int) {
	respondError(w, status, stdliberrors.New(msg))
}
