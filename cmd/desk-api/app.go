package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	deskapi "github.com/BearBump/FreightDesk/internal/api/desk_api"
	"github.com/BearBump/FreightDesk/internal/auth"
	"github.com/BearBump/FreightDesk/internal/broker/kafka"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

type deskAPIOpts struct {
	grpcAddr     string
	httpAddr     string
	grpcDialAddr string
	swaggerPath  string
	jwtSecret    string

	topic         string
	consumerGroup string
	// consumerRetryPause is the pause before consuming again after a failed message.
	consumerRetryPause time.Duration

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

// backgroundRunner is an extra loop started next to the servers (the in-process
// relay for the memory store).
type backgroundRunner interface {
	Run(ctx context.Context) error
}

func runDeskAPI(ctx context.Context, opts deskAPIOpts, api *deskapi.DeskAPI, consumer kafkaConsumer, background ...backgroundRunner) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	dialAddr := opts.grpcDialAddr
	if dialAddr == "" || strings.HasSuffix(dialAddr, ":0") {
		dialAddr = grpcLis.Addr().String()
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis, api, opts.jwtSecret)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runGatewayServer(ctx, httpLis, dialAddr, opts.swaggerPath)
	}()

	if consumer != nil {
		go runConsumer(ctx, consumer, api, opts)
	}
	for _, b := range background {
		go func() {
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("background loop stopped", "err", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// runConsumer keeps reading customer events. Consume returns on a failed
// message without committing it, so after a pause the message is read again.
func runConsumer(ctx context.Context, consumer kafkaConsumer, api *deskapi.DeskAPI, opts deskAPIOpts) {
	pause := opts.consumerRetryPause
	if pause <= 0 {
		pause = time.Second
	}
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
	for {
		err := consumer.Consume(ctx, api.HandleCustomerEvent)
		if ctx.Err() != nil {
			return
		}
		slog.Error("customer events consumer stopped, restarting", "err", err, "pause", pause)
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

func runGRPCServer(ctx context.Context, lis net.Listener, api *deskapi.DeskAPI, jwtSecret string) error {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		auth.NewUnaryInterceptor(jwtSecret, healthCheckMethod),
		deskapi.ErrorInterceptor(),
	))
	deskapi.RegisterDeskServiceServer(s, api)

	hs := health.NewServer()
	hs.SetServingStatus(deskapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runGatewayServer(ctx context.Context, lis net.Listener, grpcAddr string, swaggerPath string) error {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, swaggerPath)
	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	mux := runtime.NewServeMux()
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if err := deskapi.RegisterDeskServiceHandlerFromEndpoint(ctx, mux, grpcAddr, opts); err != nil {
		return err
	}
	r.Mount("/", mux)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP gateway listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
