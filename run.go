package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/john/streamtap/internal/archive"
	"github.com/john/streamtap/internal/broadcast"
	"github.com/john/streamtap/internal/config"
	"github.com/john/streamtap/internal/dispatch"
	"github.com/john/streamtap/internal/event"
	"github.com/john/streamtap/internal/health"
	"github.com/john/streamtap/internal/ingest"
	"github.com/john/streamtap/internal/kick"
	"github.com/john/streamtap/internal/metrics"
	"github.com/john/streamtap/internal/router"
	"github.com/john/streamtap/internal/source"
	"github.com/john/streamtap/internal/store"
	"github.com/john/streamtap/internal/store/sqlstore"
	"github.com/john/streamtap/internal/twitch"
	"github.com/john/streamtap/internal/writer"
)

const (
	durableChannel   = "durable"
	broadcastChannel = "broadcast"
)

// run wires every component and blocks until ctx is cancelled and shutdown completes
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("streamtap starting",
		zap.String("source", cfg.Source.Type),
		zap.String("host", cfg.Source.Host))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	channels := dispatch.NewRegistry[event.Event]()
	durable := channels.CreateOrGet(dispatch.Options{
		Name:     durableChannel,
		Capacity: cfg.Channels.DurableCapacity,
		FullMode: dispatch.Wait,
	})
	live := channels.CreateOrGet(dispatch.Options{
		Name:     broadcastChannel,
		Capacity: cfg.Channels.BroadcastCapacity,
		FullMode: dispatch.DropWrite,
	})

	st, closeStore, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Background workers outlive the signal so they can drain
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	var arch *archive.Service
	if cfg.Archive.Enabled {
		var closeArchive func()
		arch, closeArchive, err = openArchive(ctx, cfg, m, log)
		if err != nil {
			return err
		}
		defer closeArchive()
	}

	src, err := newSource(cfg, log)
	if err != nil {
		return err
	}

	roomID := cfg.Source.RoomID
	if roomID == 0 {
		roomID = src.RoomID()
	}
	routerOpts := []router.Option{router.WithRoomID(roomID)}
	if arch != nil {
		routerOpts = append(routerOpts, router.WithArchiver(arch))
	}
	rt := router.New(durable, live, m, log, routerOpts...)

	w := writer.New(durable, st, m, log, writer.Config{
		MaxBatchSize: cfg.Writer.MaxBatchSize,
		MaxWait:      cfg.Writer.MaxWait(),
		DrainTimeout: cfg.Writer.DrainTimeout,
	})
	hub := broadcast.NewHub(m, cfg.Channels.SubscriberQueue)
	consumer := broadcast.NewConsumer(live, hub, m, log)
	sup := ingest.New(src, rt.Handle, cfg.Source.ReconnectInterval, cfg.ShutdownTimeout, log)

	httpServer := health.New(cfg.HTTP.Addr, log)
	httpServer.AddCheck("ingest", sup.Running)
	httpServer.AddCheck("writer", w.Running)
	httpServer.Mount("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpServer.Mount("/ws", broadcast.Handler(hub, log))

	var workers sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(workCtx); err != nil {
				log.Warn("component stopped with error", zap.String("component", name), zap.Error(err))
			}
		}()
	}
	start("writer", w.Run)
	start("broadcast", consumer.Run)
	if arch != nil {
		start("archive", arch.Run)
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	log.Info("all components started")

	// Returns once ctx is cancelled and the source has emitted its final events
	_ = sup.Run(ctx)
	log.Info("shutdown signal received, draining")

	channels.CloseAll()
	if arch != nil {
		arch.Close()
	}

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	if awaitDrain(done, cfg.ShutdownTimeout, cfg.Writer.DrainTimeout+time.Second, workCancel, log) {
		log.Info("all components stopped")
	} else {
		log.Warn("components did not stop, abandoning remaining work",
			zap.Int("durable_queued", durable.Len()))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Warn("error shutting down HTTP server", zap.Error(err))
	}

	log.Info("streamtap stopped")
	return nil
}

// awaitDrain waits up to grace for done. Past it, cancel forces the workers
// to stop and they get up to drain more for their final flush. It reports
// whether done closed.
func awaitDrain(done <-chan struct{}, grace, drain time.Duration, cancel context.CancelFunc, log *zap.Logger) bool {
	select {
	case <-done:
		return true
	case <-time.After(grace):
	}

	log.Warn("shutdown timeout exceeded, cancelling workers")
	cancel()
	select {
	case <-done:
		return true
	case <-time.After(drain):
		return false
	}
}

func openStore(cfg config.StoreConfig, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no store DSN configured, batches will only be logged")
		return store.NewLogStore(log), func() {}, nil
	}

	db, err := sqlstore.Open(sqlstore.Options{
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		RowsPerStmt:  cfg.RowsPerStmt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn("error closing store", zap.Error(err))
		}
	}, nil
}

func openArchive(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*archive.Service, func(), error) {
	if cfg.S3.RoleARN != "" {
		log.Info("using OIDC authentication for S3", zap.String("role_arn", cfg.S3.RoleARN))
	}
	s3, err := archive.NewS3Store(ctx, archive.S3Options{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		RoleARN:         cfg.S3.RoleARN,
		TokenSocket:     cfg.S3.TokenSocket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create S3 client: %w", err)
	}
	if cfg.Archive.EnsureBucket {
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Warn("could not ensure archive bucket", zap.String("bucket", cfg.S3.Bucket), zap.Error(err))
		}
	}

	ids, err := archive.NewFlakeIDs(cfg.Archive.MachineID)
	if err != nil {
		return nil, nil, fmt.Errorf("create id generator: %w", err)
	}

	opts := archive.Options{
		Workers:    cfg.Archive.Workers,
		MaxRetries: cfg.Archive.MaxRetries,
		Backoff:    cfg.Archive.Backoff,
	}
	closeFn := func() {}
	if cfg.Redis.Addr != "" {
		cli := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.Deduper = archive.NewRedisDeduper(cli, "", cfg.Archive.DedupeTTL)
		closeFn = func() {
			if err := cli.Close(); err != nil {
				log.Warn("error closing redis client", zap.Error(err))
			}
		}
		log.Info("archive de-duplication enabled", zap.String("redis", cfg.Redis.Addr))
	}

	return archive.NewService(s3, ids, m, log, opts), closeFn, nil
}

func newSource(cfg *config.Config, log *zap.Logger) (source.Source, error) {
	switch cfg.Source.Type {
	case "mock":
		return source.NewMock(cfg.Source.Host, cfg.Source.RoomID, cfg.Source.MockInterval, log), nil
	case "twitch":
		return twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channel, cfg.Source.RoomID, log), nil
	case "kick":
		return kick.New(kick.Channel{Slug: cfg.Kick.Channel, ChatroomID: cfg.Kick.ChatroomID}, nil, log), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}
