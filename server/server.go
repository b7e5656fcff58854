package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"labelpanel/config"
	"labelpanel/core/auth"
	"labelpanel/logger"
)

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter registers every route. Everything under /api requires a valid
// session token.
func NewRouter(h *APIHandler, verifier *auth.Verifier) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.AuthMiddleware(verifier))

	// 音轨上传与提交
	api.HandleFunc("/tracks/upload", h.CreateSingleHandler).Methods(http.MethodPost)
	api.HandleFunc("/tracks/commit", h.CommitTracksHandler).Methods(http.MethodPost)
	api.HandleFunc("/tracks/rollback", h.RollbackTracksHandler).Methods(http.MethodPost)

	// 暂存会话
	api.HandleFunc("/uploads/{sessionId}", h.ListStagedHandler).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{sessionId}/events", h.UploadEventsHandler).Methods(http.MethodGet)

	// release
	api.HandleFunc("/releases/{id:[0-9]+}", h.UpdateReleaseHandler).Methods(http.MethodPut)
	api.HandleFunc("/releases/{id:[0-9]+}/user-declaration", h.UserDeclarationHandler).Methods(http.MethodPost)

	return router
}

// Start wires the application and serves HTTP until SIGINT/SIGTERM.
func Start(cfg *config.Config) {
	ctx := context.Background()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize application", logger.ErrorField(err))
	}
	defer app.Close()

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every request will be rejected")
	}

	handler := NewAPIHandler(app.Commits, app.Merger, app.Assembler, app.Hub, cfg.IsProduction())

	// 设置服务器超时，上传大文件时写超时需要放宽
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewRouter(handler, app.Verifier),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			logger.String("addr", server.Addr),
			logger.String("env", cfg.Environment),
			logger.String("tempDir", cfg.TempUploadDir))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}
