package httpapi

import (
	"errors"
	"net/http"

	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// statusFor maps an error to the HTTP status spec.md §7 assigns its kind:
// storage sentinels map directly, classified errors map by errkind.Kind,
// and anything else fails closed to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	}
	switch errkind.KindOf(err) {
	case errkind.Validation:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
