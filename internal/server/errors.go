package server

import (
	"encoding/json"
	"log"
	"net/http"

	"medquote/internal/apperr"
)

var kindStatus = map[string]int{
	"ValidationError":        http.StatusBadRequest,
	"NotFound":               http.StatusNotFound,
	"InvalidStateTransition": http.StatusConflict,
	"Conflict":               http.StatusConflict,
	"RequestNotQuotable":     http.StatusConflict,
	"DuplicateQuote":         http.StatusConflict,
	"Unauthenticated":        http.StatusUnauthorized,
	"Forbidden":              http.StatusForbidden,
	"AddressUnresolvable":    http.StatusUnprocessableEntity,
	"UploadFailed":           http.StatusBadGateway,
	"InvalidCredentials":     http.StatusUnauthorized,
	"EmailTaken":             http.StatusConflict,
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(err error) int {
	if code, ok := kindStatus[apperr.Kind(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Kind: apperr.Kind(err)})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("bad JSON: %v", err)
	}
	return nil
}
