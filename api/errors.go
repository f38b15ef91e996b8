package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/storage"
)

// errBadRequestBody marks a request body that is not the expected JSON.
var errBadRequestBody = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, certificates.ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, certificates.ErrEmptyCSR):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, channel.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errBadRequestBody):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, certificates.ErrCorruptStore):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
