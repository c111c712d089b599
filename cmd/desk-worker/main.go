package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/BearBump/FreightDesk/config"
	"github.com/BearBump/FreightDesk/internal/services/relay"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if cfg.Desk.StorageDriver == config.StorageDriverMemory {
		panic("desk-worker needs postgres; with storage_driver=memory the relay runs inside desk-api")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var current atomic.Pointer[relay.Relay]
	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Desk.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			relay:       current.Load,
			cfg:         cfg,
		})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker http server stopped", "err", err)
		}
	}()

	if err := RunDeskWorker(ctx, cfg, defaultWorkerFactories(), current.Store); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
