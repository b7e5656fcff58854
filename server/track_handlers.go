package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"labelpanel/core/apperr"
	"labelpanel/core/audio"
	"labelpanel/core/commit"
	"labelpanel/core/upload"
	"labelpanel/logger"
	"labelpanel/model"
)

// chunkRequest is the chunk-level part of an upload form.
type chunkRequest struct {
	fileName string
	index    int
	total    int
	result   upload.Result
}

// receiveChunk parses the chunk fields of a multipart request and appends the
// chunk to the temp file identified by disambiguator and fileName.
func (h *APIHandler) receiveChunk(r *http.Request, disambiguator func(fileName string) string) (*chunkRequest, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, apperr.InvalidChunkMetadata(fmt.Sprintf("failed to parse multipart form: %v", err))
	}

	index, total, err := upload.ParseChunkMeta(r.FormValue("chunkIndex"), r.FormValue("totalChunks"))
	if err != nil {
		return nil, err
	}
	offset, err := upload.ParseOffset(r.FormValue("chunkOffset"))
	if err != nil {
		return nil, err
	}
	fileName := strings.TrimSpace(r.FormValue("fileName"))
	if fileName == "" {
		return nil, apperr.InvalidChunkMetadata("fileName is required")
	}

	part, _, err := r.FormFile("chunk")
	if err != nil {
		return nil, apperr.InvalidChunkMetadata("missing 'chunk' part")
	}
	defer part.Close()

	res, err := h.assembler.AppendChunk(r.Context(), upload.Chunk{
		Key:    upload.Key{Disambiguator: disambiguator(fileName), FileName: fileName},
		Data:   part,
		Index:  index,
		Total:  total,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return &chunkRequest{fileName: fileName, index: index, total: total, result: res}, nil
}

func chunkReceived(index int) string {
	return fmt.Sprintf("Chunk %d recibido", index)
}

// CreateSingleHandler receives one chunk of a track master. On the last chunk
// the master is validated and either staged (isTemporary=true) or committed
// straight away.
//
// Multipart form fields:
// - chunk, chunkIndex, totalChunks, fileName (required)
// - data: track metadata JSON (required on the last chunk)
// - sessionId + isTemporary=true for staged uploads
// - uploadId, chunkOffset (optional)
func (h *APIHandler) CreateSingleHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		h.writeError(w, r, apperr.InvalidChunkMetadata(fmt.Sprintf("failed to parse multipart form: %v", err)))
		return
	}
	temporary := strings.EqualFold(r.FormValue("isTemporary"), "true")
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	uploadID := strings.TrimSpace(r.FormValue("uploadId"))
	if temporary && sessionID == "" {
		h.writeError(w, r, apperr.InvalidChunkMetadata("sessionId is required for temporary uploads"))
		return
	}

	disambiguator := func(string) string {
		switch {
		case temporary && uploadID != "":
			// 同一会话内的并发上传按 uploadId 区分
			return sessionID + "_" + uploadID
		case temporary:
			return sessionID
		case uploadID != "":
			return uploadID
		default:
			return actor.ID
		}
	}
	chunk, err := h.receiveChunk(r, disambiguator)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !chunk.result.Done {
		writeOK(w, Response{Message: chunkReceived(chunk.index)})
		return
	}

	path := chunk.result.Path
	info, err := audio.Validate(path, chunk.fileName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.Info("master assembled",
		logger.String("file", chunk.fileName),
		logger.Int("chunks", chunk.total),
		logger.Int64("size", info.SizeBytes),
		logger.Int("channels", info.Channels))

	data, err := model.ParseTrackData(r.FormValue("data"))
	if err != nil {
		h.removeTemp(path)
		h.writeError(w, r, apperr.InvalidPayload(err))
		return
	}

	if temporary {
		staged, err := h.commits.Stage(r.Context(), sessionID, data, chunk.fileName, path)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeOK(w, Response{
			Data:   staged,
			TempID: strconv.FormatInt(staged.ID, 10),
		})
		return
	}

	progressID := uploadID
	if progressID == "" {
		progressID = disambiguator(chunk.fileName)
	}
	track, err := h.commits.CommitInline(r.Context(), commit.Inline{
		ProgressID: progressID,
		Data:       data,
		FileName:   chunk.fileName,
		TempPath:   path,
	}, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, Response{Data: track, Message: commit.SuccessMessage(1)})
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func decodeSession(r *http.Request) (string, error) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", apperr.InvalidPayload(fmt.Errorf("decode body: %w", err))
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return "", apperr.InvalidPayload(errors.New("sessionId is required"))
	}
	return strings.TrimSpace(req.SessionID), nil
}

// CommitTracksHandler promotes every staged track of a session.
func (h *APIHandler) CommitTracksHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	sessionID, err := decodeSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tracks, err := h.commits.Commit(r.Context(), sessionID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, Response{Data: tracks, Message: commit.SuccessMessage(len(tracks))})
}

// RollbackTracksHandler discards a staged session.
func (h *APIHandler) RollbackTracksHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	sessionID, err := decodeSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.commits.Rollback(r.Context(), sessionID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, Response{Data: res, Message: "Sesión revertida"})
}

// ListStagedHandler 列出会话中的暂存 track
func (h *APIHandler) ListStagedHandler(w http.ResponseWriter, r *http.Request) {
	staged, err := h.commits.List(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if staged == nil {
		staged = []*model.StagedTrack{}
	}
	writeOK(w, Response{Data: staged})
}

func (h *APIHandler) removeTemp(path string) {
	if err := upload.RemoveFile(path); err != nil {
		logger.Warn("failed to remove temp file", logger.String("path", path), logger.ErrorField(err))
	}
}
