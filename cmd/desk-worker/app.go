package main

import (
	"context"
	"time"

	"github.com/BearBump/FreightDesk/config"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/services/relay"
	"github.com/BearBump/FreightDesk/internal/storage/pgdesk"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo relay.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) relay.Producer
	newRateLimiter func(cfg *config.Config) relay.RateLimiter
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (relay.Repository, func(), error) {
			st, err := pgdesk.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) relay.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
	}
}

func deskTopic(cfg *config.Config) string {
	if cfg.Kafka.DeskEventsTopicName == "" {
		return "desk.events"
	}
	return cfg.Kafka.DeskEventsTopicName
}

// newRelay builds the outbox relay with the worker settings from cfg; zero
// values keep the relay defaults.
func newRelay(cfg *config.Config, repo relay.Repository, producer relay.Producer, rl relay.RateLimiter) *relay.Relay {
	d := cfg.Desk
	return relay.New(repo, producer, rl, deskTopic(cfg)).
		WithSettings(
			time.Duration(d.WorkerPollIntervalSeconds)*time.Second,
			d.WorkerBatchSize,
			d.WorkerConcurrency,
			time.Duration(d.WorkerLeaseSeconds)*time.Second,
			int64(d.WorkerRateLimitPerMinute),
		).
		WithBackoff(relay.BackoffConfig{
			Step1: time.Duration(d.WorkerBackoff1Seconds) * time.Second,
			Step2: time.Duration(d.WorkerBackoff2Seconds) * time.Second,
			Step3: time.Duration(d.WorkerBackoff3Seconds) * time.Second,
			Step4: time.Duration(d.WorkerBackoff4Seconds) * time.Second,
		}, nil)
}

// RunDeskWorker publishes outbox events until ctx is done. onReady gets the
// relay so the ops HTTP server can report on it.
func RunDeskWorker(ctx context.Context, cfg *config.Config, f workerFactories, onReady func(*relay.Relay)) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	r := newRelay(cfg, repo, f.newProducer(cfg), f.newRateLimiter(cfg))
	if onReady != nil {
		onReady(r)
	}
	return r.Run(ctx)
}
