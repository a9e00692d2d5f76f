package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/BearBump/TagGuard/internal/api/rfidapi"
	"github.com/BearBump/TagGuard/internal/broker/messages"
	"github.com/BearBump/TagGuard/internal/hub"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/services/ingest"
	"github.com/BearBump/TagGuard/internal/services/scanner"
	"github.com/BearBump/TagGuard/internal/services/theft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type gatewayOpts struct {
	grpcAddr string
	httpAddr string

	gateScanTopic string
	consumerGroup string
	consumerRetry time.Duration

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	ConsumeGateScans(ctx context.Context, handler func(ctx context.Context, req messages.GateScanRequested) error) error
}

type gateway struct {
	hub         *hub.Hub
	api         *rfidapi.API
	engine      *theft.Engine
	pipeline    *ingest.Pipeline
	supervisors []*scanner.Supervisor
	tags        chan models.TagRead
	consumer    kafkaConsumer

	healthSrv *health.Server
	health    *readerHealth
}

func runGateway(ctx context.Context, opts gatewayOpts, g *gateway) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router, err := newRouter(g)
	if err != nil {
		return err
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

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis, g.healthSrv)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, router)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.pipeline.Run(ctx, g.tags)
	}()
	for _, s := range g.supervisors {
		wg.Add(1)
		go func(s *scanner.Supervisor) {
			defer wg.Done()
			slog.Info("scan supervisor started", "reader_id", s.ReaderID())
			_ = s.Run(ctx)
		}(s)
	}
	if g.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeGateScans(ctx, g.consumer, g.engine, opts)
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-grpcErr:
	case err = <-httpErr:
	}
	cancel()
	wg.Wait()
	return err
}

func runGRPCServer(ctx context.Context, lis net.Listener, hs *health.Server) error {
	s := grpc.NewServer()
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
	err := s.Serve(lis)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}

// consumeGateScans feeds exit-gate requests from Kafka into the theft
// engine, restarting the consumer after a failure until ctx is done.
func consumeGateScans(ctx context.Context, c kafkaConsumer, engine *theft.Engine, opts gatewayOpts) {
	retry := opts.consumerRetry
	if retry <= 0 {
		retry = 5 * time.Second
	}
	slog.Info("kafka consumer started", "topic", opts.gateScanTopic, "group", opts.consumerGroup)
	for {
		err := c.ConsumeGateScans(ctx, func(ctx context.Context, req messages.GateScanRequested) error {
			return handleGateScan(ctx, engine, req)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("gate scan consumer stopped", "error", err.Error(), "retry_in", retry.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// handleGateScan returns engine failures so the request is not committed.
func handleGateScan(ctx context.Context, engine *theft.Engine, req messages.GateScanRequested) error {
	res, err := engine.CheckGateScan(ctx, req.EPC, req.ReaderID)
	if err != nil {
		return err
	}
	slog.Info("gate scan evaluated", "epc", req.EPC, "reader_id", req.ReaderID, "status", res.Status)
	return nil
}
