package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	commonauth "market_files/server/common/auth"
	"market_files/server/common/infra/cache"
	"market_files/server/common/infra/db"
	"market_files/server/common/infra/mq"
	"market_files/server/common/infra/object"
	commonlog "market_files/server/common/log"
	"market_files/server/common/middleware"
	fileapi "market_files/server/fileman/api"
	"market_files/server/fileman/repository"
	"market_files/server/fileman/service"
)

type Server struct {
	HTTPServer *http.Server

	closers []func() error
}

type stores struct {
	files    repository.FileRegistry
	services repository.ServiceDirectory
	users    repository.UserStore
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := &Server{}
	checks := map[string]fileapi.ReadinessCheck{}

	st, err := s.openStores(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	checks["registry"] = st.files.Ping

	objects, ping, err := openObjectStore(ctx, cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	checks["objects"] = ping

	urls, err := s.openURLCache(ctx, cfg, checks)
	if err != nil {
		s.close()
		return nil, err
	}

	events, err := s.openPublisher(cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	fileSvc := service.NewFileService(st.files, st.services, objects, events, urls, service.FileServiceConfig{
		Policy:       cfg.UploadPolicy(),
		SignedURLTTL: cfg.SignedURLTTL,
		StoreTimeout: cfg.ObjectStoreTimeout,
		Thumbnails:   cfg.ThumbnailsEnabled,
	})

	h := fileapi.NewHandler(
		fileSvc,
		service.NewListingService(st.services),
		service.NewUserService(st.users, authSvc),
		authSvc,
		checks,
	)
	r := gin.Default()
	r.Use(middleware.Metrics())
	h.RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openStores(ctx context.Context, cfg Config) (stores, error) {
	switch strings.ToLower(cfg.RegistryBackend) {
	case BackendMemory:
		commonlog.Warnf("registry backend is memory; records are lost on restart")
		return stores{
			files:    repository.NewMemoryFileRegistry(),
			services: repository.NewMemoryServiceDirectory(),
			users:    repository.NewMemoryUserStore(),
		}, nil
	case BackendPostgres, "":
		if cfg.AutoMigrate {
			if err := db.Migrate(cfg.PostgresDSN); err != nil {
				return stores{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, fmt.Errorf("initialize postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		return stores{
			files:    repository.NewPostgresFileRegistry(pool),
			services: repository.NewPostgresServiceDirectory(pool),
			users:    repository.NewPostgresUserStore(pool),
		}, nil
	}
	return stores{}, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
}

func openObjectStore(ctx context.Context, cfg Config) (service.ObjectStore, fileapi.ReadinessCheck, error) {
	switch strings.ToLower(cfg.ObjectBackend) {
	case BackendMemory:
		commonlog.Warnf("object backend is memory; blobs are lost on restart")
		store := object.NewMemoryStore(cfg.MinioBucket)
		return store, store.Ping, nil
	case BackendMinIO, "":
		client, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := object.EnsureBucket(ctx, client, cfg.MinioBucket); err != nil {
			return nil, nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		store := object.NewMinIOStore(client, cfg.MinioBucket)
		return store, store.Ping, nil
	}
	return nil, nil, fmt.Errorf("unknown object backend %q", cfg.ObjectBackend)
}

func (s *Server) openURLCache(ctx context.Context, cfg Config, checks map[string]fileapi.ReadinessCheck) (service.URLCache, error) {
	ttl := service.URLCacheTTL(cfg.SignedURLTTL)
	switch strings.ToLower(cfg.SignedURLCache) {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return service.NewLRUURLCache(cfg.SignedURLCacheSize, ttl), nil
	case BackendRedis:
		client := cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("initialize redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		checks["cache"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
		return service.NewRedisURLCache(client, ttl), nil
	}
	return nil, fmt.Errorf("unknown signed url cache %q", cfg.SignedURLCache)
}

func (s *Server) openPublisher(cfg Config) (service.EventPublisher, error) {
	if cfg.AMQPURL == "" {
		return service.NopPublisher{}, nil
	}
	conn, err := mq.NewConnection(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("initialize amqp: %w", err)
	}
	publisher, err := service.NewAMQPPublisher(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare file events exchange: %w", err)
	}
	s.closers = append(s.closers, publisher.Close, conn.Close)
	return publisher, nil
}

func (s *Server) close() error {
	var errs []error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.HTTPServer.Shutdown(ctx), s.close())
}
