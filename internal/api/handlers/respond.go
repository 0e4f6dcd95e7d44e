package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON value from the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodySize)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.BadRequest("Request body is required")
		}
		return errors.BadRequest("Invalid request body")
	}
	if err := dec.Decode(&struct{}{}); !stderrors.Is(err, io.EOF) {
		return errors.BadRequest("Unexpected data after JSON body")
	}
	return nil
}

// actor returns the request's user context. Routes that reach a handler
// without one were wired without the user context middleware.
func actor(w http.ResponseWriter, r *http.Request) (*access.UserContext, bool) {
	uc, ok := apiContext.ActorFrom(r.Context())
	if !ok {
		errors.Write(w, errors.Unauthorized("No user context found"))
	}
	return uc, ok
}
