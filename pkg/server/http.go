package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync/atomic"

	"sendloop-engine/pkg/config"
	"sendloop-engine/pkg/middleware"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		NewHTTPServer,
	),
	fx.Invoke(Run),
)

// NewEngine builds the shared gin router; services attach their routes
// through fx.Invoke registrations.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.Trace(),
		middleware.RequestLogger(),
		middleware.Error(),
	)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return engine
}

type Server struct {
	server   *http.Server
	cert     atomic.Pointer[tls.Certificate]
	certPath string
	keyPath  string
}

type Params struct {
	fx.In
	Config *config.Config
	Engine *gin.Engine
}

func NewHTTPServer(p Params) *Server {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      p.Engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		certPath: cfg.TLS.CertPath,
		keyPath:  cfg.TLS.KeyPath,
	}

	if cfg.TLS.Enable {
		srv.loadKeypair()
		go srv.watchKeypair()
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: srv.currentCert,
		}
	}

	return srv
}

func (s *Server) currentCert(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if c := s.cert.Load(); c != nil {
		return c, nil
	}
	return nil, errors.New("tls keypair not loaded")
}

func (s *Server) loadKeypair() {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		zap.L().Error("tls keypair load failed",
			zap.String("cert", s.certPath), zap.Error(err))
		return
	}
	s.cert.Store(&cert)
	zap.L().Info("tls keypair loaded", zap.String("cert", s.certPath))
}

// watchKeypair reloads the certificate when either file on disk changes,
// so rotation does not require a restart.
func (s *Server) watchKeypair() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("fsnotify watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	for _, path := range []string{s.certPath, s.keyPath} {
		if err := watcher.Add(path); err != nil {
			zap.L().Warn("cannot watch tls file", zap.String("path", path), zap.Error(err))
		}
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				s.loadKeypair()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("tls watcher error", zap.Error(err))
		}
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			serve := srv.server.ListenAndServe
			if srv.server.TLSConfig != nil {
				serve = func() error {
					return srv.server.ListenAndServeTLS(srv.certPath, srv.keyPath)
				}
			}

			go func() {
				zap.L().Info("http server listening", zap.String("addr", srv.server.Addr))
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("http server shutting down")
			return srv.server.Shutdown(ctx)
		},
	})
}
