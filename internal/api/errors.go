package api

import (
	"net/http"

	"lathe/internal/services"
)

// StatusForError maps an internal error onto the HTTP status and error kind
// the daemon reports to clients.
func StatusForError(err error) (int, string) {
	kind := services.Classify(err)
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound, string(kind)
	case services.KindValidation:
		return http.StatusUnprocessableEntity, string(kind)
	case services.KindCapacity:
		return http.StatusTooManyRequests, string(kind)
	case services.KindConfiguration:
		return http.StatusInternalServerError, string(kind)
	case services.KindTimeout:
		return http.StatusGatewayTimeout, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}
