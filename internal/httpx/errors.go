package httpx

import (
	"net/http"

	"github.com/sundayezeilo/shortlink/internal/errx"
)

type kindResponse struct {
	status int
	code   string
	// public marks kinds whose error text is safe to show to clients.
	public bool
}

var kindResponses = map[errx.Kind]kindResponse{
	errx.NotFound:     {http.StatusNotFound, "not_found", true},
	errx.Conflict:     {http.StatusConflict, "conflict", true},
	errx.Invalid:      {http.StatusBadRequest, "invalid_input", true},
	errx.Unauthorized: {http.StatusUnauthorized, "unauthorized", true},
	errx.Forbidden:    {http.StatusForbidden, "forbidden", true},
	errx.Unavailable:  {http.StatusServiceUnavailable, "unavailable", false},
	errx.Internal:     {http.StatusInternalServerError, "internal_error", false},
}

var fallbackResponse = kindResponse{http.StatusInternalServerError, "internal_error", false}

func responseFor(kind errx.Kind) kindResponse {
	if resp, ok := kindResponses[kind]; ok {
		return resp
	}
	return fallbackResponse
}

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
func ErrorKindToStatus(kind errx.Kind) int {
	return responseFor(kind).status
}

// ErrorKindToCode maps errx.Kind to error codes for JSON responses.
func ErrorKindToCode(kind errx.Kind) string {
	return responseFor(kind).code
}

// WriteKindError answers with the status and code for err's Kind. Messages
// of server-side kinds are replaced by a generic one.
func WriteKindError(w http.ResponseWriter, err error) {
	resp := responseFor(errx.KindOf(err))

	msg := "an unexpected error occurred"
	switch {
	case resp.public:
		msg = publicMessage(err)
	case resp.status == http.StatusServiceUnavailable:
		msg = "service temporarily unavailable"
	}
	WriteError(w, resp.status, resp.code, msg, nil)
}

// publicMessage strips the operation chain and returns the innermost text.
func publicMessage(err error) string {
	for {
		e, ok := err.(*errx.Error)
		if !ok || e.Err == nil {
			return err.Error()
		}
		err = e.Err
	}
}
