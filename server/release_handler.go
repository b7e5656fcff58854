package server

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/core/release"
	"labelpanel/logger"
)

// UpdateReleaseHandler merges a release edit. The `data` field carries the
// release document; `picture` and the parts named by newTracks[].fileField
// carry files.
func (h *APIHandler) UpdateReleaseHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	releaseID, err := releaseIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		h.writeError(w, r, apperr.InvalidPayload(fmt.Errorf("failed to parse multipart form: %w", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := release.ParseUpdateRequest(r.FormValue("data"))
	if err != nil {
		h.writeError(w, r, apperr.InvalidPayload(err))
		return
	}

	files := make(map[string]release.File)
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			h.writeError(w, r, apperr.Internal(fmt.Errorf("open part %s: %w", field, err)))
			return
		}
		opened = append(opened, f)
		files[field] = release.File{Name: fh.Filename, Reader: f, Size: fh.Size}
	}

	merged, err := h.merger.Merge(r.Context(), releaseID, req, files, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, Response{Data: merged, Message: "Release actualizado exitosamente"})
}

// UserDeclarationHandler receives the signed user declaration PDF of a
// release in chunks, like CreateSingleHandler.
func (h *APIHandler) UserDeclarationHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	releaseID, err := releaseIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	chunk, err := h.receiveChunk(r, func(string) string {
		if s := strings.TrimSpace(r.FormValue("sessionId")); s != "" {
			return s
		}
		return fmt.Sprintf("declaration-%d", releaseID)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !chunk.result.Done {
		writeOK(w, Response{Message: chunkReceived(chunk.index)})
		return
	}

	resource, err := h.merger.AttachUserDeclaration(r.Context(), releaseID, chunk.fileName, chunk.result.Path, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.Info("user declaration received", logger.Int64("release", releaseID), logger.String("by", actor.ID))
	writeOK(w, Response{
		Data:    map[string]string{"user_declaration": resource},
		Message: "Declaración subida exitosamente",
	})
}
