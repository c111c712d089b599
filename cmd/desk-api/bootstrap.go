package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FreightDesk/config"
	deskapi "github.com/BearBump/FreightDesk/internal/api/desk_api"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier/httpdir"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier/static"
	"github.com/BearBump/FreightDesk/internal/services/bookings"
	"github.com/BearBump/FreightDesk/internal/services/relay"
	"github.com/BearBump/FreightDesk/internal/services/shipments"
	"github.com/BearBump/FreightDesk/internal/storage/memstore"
	"github.com/BearBump/FreightDesk/internal/storage/pgdesk"
)

// deskStore is what both services need from storage; pgdesk and memstore implement it.
type deskStore interface {
	bookings.Repository
	shipments.Repository
	relay.Repository
}

type deskAPIApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       deskAPIOpts
	api        *deskapi.DeskAPI
	consumer   *kafka.Consumer
	background []backgroundRunner
	closers    []func()
}

func mustBootstrapDeskAPI() *deskAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	grpcAddr := cfg.Desk.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.Desk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Desk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "desk-api"
	}
	customerTopic := cfg.Kafka.CustomerEventsTopicName
	if customerTopic == "" {
		customerTopic = "customer.events"
	}
	deskTopic := cfg.Kafka.DeskEventsTopicName
	if deskTopic == "" {
		deskTopic = "desk.events"
	}

	shipmentTTL := seconds(cfg.Desk.ShipmentCacheTTLSeconds, 10*time.Minute)
	carrierTTL := seconds(cfg.Desk.CarrierCacheTTLSeconds, 5*time.Minute)
	directoryTimeout := millis(cfg.Desk.DirectoryTimeoutMS, 2*time.Second)
	storeTimeout := millis(cfg.Desk.StoreTimeoutMS, 5*time.Second)

	app := &deskAPIApp{}

	var st deskStore
	if cfg.Desk.StorageDriver == config.StorageDriverMemory {
		slog.Warn("using in-memory storage, data is lost on restart")
		mem := memstore.New()
		st = mem
		app.closers = append(app.closers, mem.Close)
	} else {
		pg := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		st = pg
		app.closers = append(app.closers, pg.Close)
	}

	rc := rediscache.New(cfg.Redis.Addr())
	app.closers = append(app.closers, func() { _ = rc.Close() })

	var dir carrier.Directory = static.New()
	if cfg.Desk.DirectoryBaseURL != "" {
		dir = httpdir.New(cfg.Desk.DirectoryBaseURL, cfg.Desk.DirectoryAPIKey, directoryTimeout)
	}
	dir = carrier.NewCachedDirectory(dir, rc, carrierTTL)

	shipSvc := shipments.New(st, rc, shipmentTTL).WithStoreTimeout(storeTimeout)
	bookSvc := bookings.New(st, shipSvc, dir).WithTimeouts(directoryTimeout, storeTimeout)
	app.api = deskapi.New(bookSvc, shipSvc, dir).WithDirectoryTimeout(directoryTimeout)

	brokers := cfg.Kafka.Brokers()
	app.consumer = kafka.NewConsumer(brokers, customerTopic, consumerGroup)

	// Память не видна отдельному воркеру, поэтому relay крутится в этом же процессе.
	if cfg.Desk.StorageDriver == config.StorageDriverMemory {
		producer := kafka.NewProducer(brokers)
		rl := rediscache.NewRateLimiter(cfg.Redis.Addr())
		app.closers = append(app.closers, func() { _ = producer.Close() }, func() { _ = rl.Close() })
		app.background = append(app.background, relay.New(st, producer, rl, deskTopic))
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = deskAPIOpts{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		grpcDialAddr:  grpcAddr,
		swaggerPath:   swaggerPath,
		jwtSecret:     cfg.Desk.JWTSecret,
		topic:         customerTopic,
		consumerGroup: consumerGroup,
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdesk.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdesk.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func millis(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func (a *deskAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *deskAPIApp) Run() error {
	return runDeskAPI(a.ctx, a.opts, a.api, a.consumer, a.background...)
}
