package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	commonlog "market_files/server/common/log"
	filemanapp "market_files/server/fileman/app"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	commonlog.ConfigureFromEnv()
	defer commonlog.Sync()

	cfg := filemanapp.ConfigFromEnv()
	server, err := filemanapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize fileman server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start fileman http server on :%s (registry=%s, objects=%s)", cfg.Port, cfg.RegistryBackend, cfg.ObjectBackend)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run fileman http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown fileman server gracefully: %v", err)
	}
}
