package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/handlers"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/metrics"
	"spc2mqtt/internal/mqtt"
	"spc2mqtt/internal/server"
	"spc2mqtt/internal/service"
	"spc2mqtt/internal/spc"
)

const defaultConfigPath = "/etc/spc2mqtt/config.yml"

func main() {
	configPath := flag.String("c", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	// Config errors are fatal before anything starts.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.Get(cfg.Log.Level)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Shared panel client: one cookie jar, one request pipeline.
	client, err := spc.NewClient(cfg.SPC.Host, cfg.SPC.SessionCacheDir, log)
	if err != nil {
		log.Fatalw("panel client init failed", "err", err)
	}
	session := spc.NewSessionManager(client, cfg.SPC, m, log)
	executor := spc.NewCommandExecutor(client, session, log)

	mq := mqtt.New(cfg.MQTT, log)

	svc := service.NewService(service.Deps{
		Scanner:  service.NewPanelScanner(client, session, cfg.Watchdog.Information, log),
		Broker:   mq,
		Executor: executor,
		Cfg:      cfg,
		Metrics:  m,
		Log:      log,
	})

	// Command subscriptions are re-established on every reconnect.
	mq.Handlers = mqtt.Handlers{
		OnConnect: func() {
			for _, filter := range svc.Router.SubscriptionFilters() {
				if err := mq.Subscribe(filter); err != nil {
					log.Errorw("subscribe failed", "filter", filter, "err", err)
				}
			}
		},
		OnMessage: svc.Router.HandleMessage,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting bridge",
		"panel", cfg.SPC.Host,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"refresh", cfg.Watchdog.Refresh(),
	)
	if err := mq.Connect(ctx); err != nil {
		log.Fatalw("mqtt connect failed", "err", err)
	}

	svc.Router.Start(ctx)
	go svc.Watchdog.Run(ctx)
	go svc.Watchdog.RunController(ctx)

	srv := &server.Server{}
	if cfg.Server.Port != "" {
		gin.SetMode(gin.ReleaseMode)
		apiHandler := handlers.NewHandler(svc, log)
		go func() {
			if err := srv.Run(cfg.Server.Port, apiHandler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("debug server stopped", "err", err)
			}
		}()
	}

	waitForShutdown(cancel, srv, mq, log)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops the loops, the
// debug server and the MQTT connection in order.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, mq *mqtt.Client, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")

	// Stop the scan loops and the command worker.
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("debug server shutdown failed", "err", err)
	}

	mq.Disconnect()
	log.Infow("stopped")
}
