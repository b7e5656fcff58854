// Package apperr defines the error kinds surfaced by the upload and commit
// pipeline, each with its HTTP status and user-facing (Spanish) message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zeebo/errs"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInvalidChunkMetadata      Kind = "InvalidChunkMetadata"
	KindChunkOutOfOrder           Kind = "ChunkOutOfOrder"
	KindInvalidPayload            Kind = "InvalidPayload"
	KindUnsupportedAudioFormat    Kind = "UnsupportedAudioFormat"
	KindUnsupportedDocumentFormat Kind = "UnsupportedDocumentFormat"
	KindDuplicateTrackTitle       Kind = "DuplicateTrackTitle"
	KindExternalAPI               Kind = "ExternalApiError"
	KindNoStagedTracks            Kind = "NoStagedTracks"
	KindPartialCommitFailure      Kind = "PartialCommitFailure"
	KindCommitInProgress          Kind = "CommitInProgress"
	KindReleaseConflict           Kind = "ReleaseConflict"
	KindUnauthorized              Kind = "Unauthorized"
	KindInternal                  Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindInvalidChunkMetadata:      http.StatusBadRequest,
	KindChunkOutOfOrder:           http.StatusConflict,
	KindInvalidPayload:            http.StatusBadRequest,
	KindUnsupportedAudioFormat:    http.StatusBadRequest,
	KindUnsupportedDocumentFormat: http.StatusBadRequest,
	KindDuplicateTrackTitle:       http.StatusConflict,
	KindExternalAPI:               http.StatusBadGateway,
	KindNoStagedTracks:            http.StatusNotFound,
	KindPartialCommitFailure:      http.StatusInternalServerError,
	KindCommitInProgress:          http.StatusConflict,
	KindReleaseConflict:           http.StatusConflict,
	KindUnauthorized:              http.StatusUnauthorized,
	KindInternal:                  http.StatusInternalServerError,
}

// Status returns the HTTP status a kind maps to.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	// UpstreamStatus and Body are only set for KindExternalAPI.
	UpstreamStatus int
	Body           string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status is the HTTP status of the response carrying this error.
func (e *Error) Status() int { return e.Kind.Status() }

// Format prints the captured stack for %+v.
func (e *Error) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('+') && e.cause != nil {
		fmt.Fprintf(f, "%s: %+v", e.Kind, e.cause)
		return
	}
	fmt.Fprint(f, e.Error())
}

func newError(kind Kind, message string, cause error) *Error {
	if cause == nil {
		cause = errs.New("%s", message)
	} else {
		cause = errs.Wrap(cause)
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// From classifies any error, defaulting to KindInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}

func InvalidChunkMetadata(detail string) *Error {
	return newError(KindInvalidChunkMetadata, "Metadatos de chunk inválidos", errs.New("%s", detail))
}

func ChunkOutOfOrder(expected, got int) *Error {
	return newError(KindChunkOutOfOrder,
		fmt.Sprintf("Chunk fuera de orden: se esperaba %d", expected),
		errs.New("received chunk %d, expected %d", got, expected))
}

func InvalidPayload(cause error) *Error {
	return newError(KindInvalidPayload, "Datos del track inválidos", cause)
}

// UnsupportedAudioFormat carries the constraint-specific message.
func UnsupportedAudioFormat(message string) *Error {
	return newError(KindUnsupportedAudioFormat, message, nil)
}

func UnsupportedDocumentFormat() *Error {
	return newError(KindUnsupportedDocumentFormat, "La declaración debe ser un archivo PDF", nil)
}

func DuplicateTrackTitle(name string) *Error {
	return newError(KindDuplicateTrackTitle,
		fmt.Sprintf("Ya existe un track con el nombre \"%s\" en este release", name), nil)
}

// ExternalAPI wraps a non-2xx answer (or transport failure) of the catalog.
func ExternalAPI(upstreamStatus int, body string, cause error) *Error {
	msg := "Error en la API externa"
	if detail := strings.TrimSpace(body); detail != "" {
		msg += ": " + detail
	} else if cause != nil {
		msg += ": " + cause.Error()
	}
	e := newError(KindExternalAPI, msg, cause)
	e.UpstreamStatus = upstreamStatus
	e.Body = body
	return e
}

func NoStagedTracks() *Error {
	return newError(KindNoStagedTracks, "No se encontraron tracks temporales para esta sesión", nil)
}

// PartialCommitFailure reports that the listed tracks were already registered
// externally when a later track of the same batch failed.
func PartialCommitFailure(registered []string, cause error) *Error {
	msg := fmt.Sprintf("Error al procesar los tracks; ya registrados en la API externa: %s. Reintente el commit para completar la sesión",
		strings.Join(registered, ", "))
	return newError(KindPartialCommitFailure, msg, cause)
}

func CommitInProgress() *Error {
	return newError(KindCommitInProgress, "Ya hay un commit en curso para esta sesión", nil)
}

func ReleaseConflict() *Error {
	return newError(KindReleaseConflict, "El release fue modificado por otra operación", nil)
}

func Unauthorized() *Error {
	return newError(KindUnauthorized, "No autorizado", nil)
}

func Internal(cause error) *Error {
	return newError(KindInternal, "Error interno del servidor", cause)
}
