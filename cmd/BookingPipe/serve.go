package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BookingPipe/internal/api"
	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/dialogue"
	"github.com/BTreeMap/BookingPipe/internal/lockfile"
	"github.com/BTreeMap/BookingPipe/internal/messaging"
	"github.com/BTreeMap/BookingPipe/internal/metrics"
	"github.com/BTreeMap/BookingPipe/internal/scheduler"
	"github.com/BTreeMap/BookingPipe/internal/session"
	"github.com/BTreeMap/BookingPipe/internal/store"
	"github.com/BTreeMap/BookingPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/BookingPipe/internal/whatsapp"
)

// app is the assembled assistant with everything it owns.
type app struct {
	assistant *assistant.Service
	appts     store.Store
	interp    *interpretation
	closers   []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.interp != nil {
		a.interp.close()
	}
	return errors.Join(errs...)
}

// buildApp opens the stores, builds the interpretation chain and wires the dialogue.
func buildApp(ctx context.Context, flags Flags, m *metrics.Metrics) (*app, error) {
	if err := ensureDirectoriesExist(flags); err != nil {
		return nil, err
	}
	appts, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open appointment store: %w", err)
	}
	a := &app{appts: appts, closers: []io.Closer{appts}}

	var sessions session.Store
	if *flags.redisURL != "" {
		rs, err := session.NewRedisStoreFromURL(ctx, *flags.redisURL, session.DefaultTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rs)
		sessions = rs
		slog.Info("sessions stored in Redis")
	} else {
		sessions = session.For(appts)
	}

	interp, err := buildInterpretation(ctx, flags, m)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.interp = interp

	orch := dialogue.New(interp.resolver, appts,
		dialogue.WithMetrics(m),
		dialogue.WithPendingContinuation(*flags.continuePending),
	)
	a.assistant = assistant.New(orch, sessions, appts)
	return a, nil
}

// newRegistry creates the Prometheus registry served on /metrics.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serve runs the HTTP API and the chat channels until ctx is cancelled.
func serve(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := newRegistry()
	m := metrics.New(reg)
	a, err := buildApp(ctx, flags, m)
	if err != nil {
		return err
	}
	defer a.Close()

	dedup := store.DedupFor(a.appts)
	if *flags.purgeSchedule != "" {
		sched := scheduler.NewScheduler()
		if err := sched.AddInboundPurge(*flags.purgeSchedule, dedup, *flags.inboundTTL); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	dispatcher := messaging.NewDispatcher(a.assistant,
		messaging.WithDedup(dedup),
		messaging.WithDispatcherMetrics(m),
	)
	apiOpts := []api.Option{
		api.WithTaskService(a.interp.tasks),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		api.WithRateLimit(*flags.rateLimit, int(*flags.rateLimit*2)+1),
	}

	if *flags.twilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		dispatcher.Register(svc)
		apiOpts = append(apiOpts, api.WithTwilio(svc))
		slog.Info("Twilio channel enabled")
	}
	if *flags.whatsapp {
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		defer client.Disconnect()
		dispatcher.Register(messaging.NewWhatsAppService(client))
		slog.Info("WhatsApp channel enabled")
	}

	server := api.NewServer(a.assistant, apiOpts...)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, *flags.apiAddr) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	slog.Info("BookingPipe running", "addr", *flags.apiAddr, "state_dir", *flags.stateDir)
	return g.Wait()
}
