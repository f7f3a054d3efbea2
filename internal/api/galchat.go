package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/galchat/internal/blob"
	"github.com/npezzotti/galchat/internal/config"
	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/registry"
	"github.com/npezzotti/galchat/internal/server"
	"github.com/npezzotti/galchat/internal/suggest"
)

// Services are the components the HTTP surface delegates to.
type Services struct {
	ChatServer *server.ChatServer
	DB         database.Repository
	Registry   *registry.Registry
	Blobs      *blob.Store
	// Generator is optional; without it suggestions answer 503.
	Generator suggest.Generator
}

type GalChatApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	cs             *server.ChatServer
	registry       *registry.Registry
	blobs          *blob.Store
	generator      suggest.Generator
	signingKey     []byte
	allowedOrigins []string
	shareText      string
}

func NewGalChatApp(mux *http.ServeMux, logger *log.Logger, svc Services, cfg *config.Config) *GalChatApp {
	s := &GalChatApp{
		log:            logger,
		db:             svc.DB,
		cs:             svc.ChatServer,
		registry:       svc.Registry,
		blobs:          svc.Blobs,
		generator:      svc.Generator,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		shareText:      cfg.ShareText,
	}

	mux.HandleFunc("POST /api/rooms/create", s.createRoom)
	mux.HandleFunc("GET /api/rooms/check/{room_id}", s.checkRoom)
	mux.HandleFunc("POST /api/rooms/leave", s.leaveRoom)
	mux.HandleFunc("GET /api/user/info", s.userInfo)
	mux.HandleFunc("POST /api/user/nickname", s.updateNickname)
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("POST /api/upload/avatar", s.uploadAvatar)
	mux.HandleFunc("GET /api/blobs/{digest}", s.getBlob)
	mux.HandleFunc("GET /api/download/{message_id}", s.download)
	mux.HandleFunc("POST /api/generate", s.generate)
	mux.HandleFunc("GET /api/config/share", s.shareConfig)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ws/chat/{room_id}", s.serveWs)

	h := s.identityMiddleware(mux)
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(h)
	h = s.errorHandler(h)
	if cfg.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *GalChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GalChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GalChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
