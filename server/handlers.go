package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"labelpanel/core/apperr"
	"labelpanel/core/commit"
	"labelpanel/core/progress"
	"labelpanel/core/release"
	"labelpanel/core/upload"
	"labelpanel/logger"
)

// maxMemory 是 multipart 解析时保留在内存中的上限，超出部分落盘
const maxMemory = 32 << 20

// APIHandler 处理所有API请求
type APIHandler struct {
	commits    *commit.Coordinator
	merger     *release.Merger
	assembler  *upload.Assembler
	hub        *progress.Hub
	production bool
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	commits *commit.Coordinator,
	merger *release.Merger,
	assembler *upload.Assembler,
	hub *progress.Hub,
	production bool,
) *APIHandler {
	return &APIHandler{
		commits:    commits,
		merger:     merger,
		assembler:  assembler,
		hub:        hub,
		production: production,
	}
}

// Response is the envelope of every JSON answer.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	TempID  string      `json:"tempId,omitempty"`
	Error   string      `json:"error,omitempty"`
	Stack   string      `json:"stack,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeOK(w http.ResponseWriter, resp Response) {
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps err onto its status and Spanish message. The stack is only
// exposed outside production.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	status := ae.Status()

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("kind", string(ae.Kind)),
			logger.ErrorField(err),
			logger.Stack(err))
	} else {
		logger.Info("request rejected",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("kind", string(ae.Kind)),
			logger.ErrorField(err))
	}

	resp := Response{Error: ae.Message}
	if !h.production {
		resp.Stack = fmt.Sprintf("%+v", err)
	}
	writeJSON(w, status, resp)
}

// releaseIDFromPath 从路由变量中读取 release id
func releaseIDFromPath(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidPayload(fmt.Errorf("invalid release id %q", raw))
	}
	return id, nil
}

// HealthHandler 存活检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeOK(w, Response{Message: "ok"})
}
