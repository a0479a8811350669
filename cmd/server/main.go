package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/api"
	"github.com/kjannette/trahn-botengine/internal/bot"
	"github.com/kjannette/trahn-botengine/internal/config"
	"github.com/kjannette/trahn-botengine/internal/db"
	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/logger"
	"github.com/kjannette/trahn-botengine/internal/marketdata"
	"github.com/kjannette/trahn-botengine/internal/monitoring"
	"github.com/kjannette/trahn-botengine/internal/notifications"
	"github.com/kjannette/trahn-botengine/internal/orders"
	"github.com/kjannette/trahn-botengine/internal/repository"
	"github.com/kjannette/trahn-botengine/internal/risk"
	"github.com/kjannette/trahn-botengine/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║      TRAHN Bot Engine v0.3           ║
║   grid · dca · signal                ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	lg := logger.New(cfg.Log)
	log := lg.WithComponent("main")
	if err := cfg.Validate(log); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	cfg.Print(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		store     repository.BotStore
		dlog      repository.DecisionLog
		controlDB repository.ControlsStore
		checks    = map[string]api.CheckFunc{}
	)
	switch cfg.Storage {
	case "memory":
		store = repository.NewMemoryBotStore()
		dlog = repository.NewMemoryDecisionLog()
		controlDB = repository.NewMemoryControlsStore()
	default:
		log.WithFields(logrus.Fields{"host": cfg.DBHost, "port": cfg.DBPort, "db": cfg.DBName}).Info("connecting to database")
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer func() {
			pool.Close()
			log.Info("database pool closed")
		}()
		if err := db.TestConnection(ctx, pool, lg.WithComponent("db")); err != nil {
			log.WithError(err).Fatal("database test query failed")
		}
		if err := db.Migrate(ctx, pool); err != nil {
			log.WithError(err).Fatal("database migration failed")
		}
		store = repository.NewBotRepo(pool)
		dlog = repository.NewDecisionLogRepo(pool)
		controlDB = repository.NewControlsRepo(pool)
		checks["database"] = pool.Ping
	}

	// Market data
	var market marketdata.Source
	if cfg.RedisAddr == "" || cfg.RedisAddr == "static" {
		log.Warn("REDIS_ADDR not set, using an empty in-memory snapshot source")
		market = marketdata.NewStaticSource()
	} else {
		rdb := marketdata.NewRedisClient(marketdata.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis not reachable yet, ticks log data_unavailable until it is")
		}
		market = marketdata.NewRedisSource(rdb, cfg.SnapshotMaxAge)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Events
	hub := events.NewHub[events.Event]()
	sinks := events.Fanout{events.HubSink{Hub: hub}}
	if len(cfg.KafkaBrokers) > 0 {
		if err := events.EnsureTopic(cfg.KafkaBrokers[0], cfg.DecisionTopic, 3, 1); err != nil {
			log.WithError(err).Warn("could not ensure decision topic")
		}
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.DecisionTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(reg)

	// Orders
	var live orders.Placer
	if cfg.OrderGatewayURL != "" {
		live = orders.NewGatewayPlacer(cfg.OrderGatewayURL, cfg.OrderGatewayAPIKey, lg.WithComponent("gateway"))
	}
	router := orders.NewRouter(orders.NewPaperPlacer(cfg.PaperSlippagePercent, cfg.PaperFeePercent), live)

	// Engine
	controls := risk.NewSwitch()
	eng := engine.New(risk.NewGuardian(risk.Limits{
		MaxOrderAmount:          cfg.MaxOrderAmount,
		RequireStopLoss:         cfg.RequireStopLoss,
		SafeModeCooldownMinutes: cfg.SafeModeCooldownMinutes,
		SafeModeMaxDailyTrades:  cfg.SafeModeMaxDailyTrades,
		DayCutoffHour:           cfg.DayCutoffHourUTC,
	}))
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, lg.WithComponent("notify"))

	sched := scheduler.New(scheduler.Config{
		TickInterval: cfg.TickInterval,
		TickTimeout:  cfg.TickTimeout,
	}, scheduler.Deps{
		Store:    store,
		Log:      dlog,
		Engine:   eng,
		Market:   market,
		Orders:   router,
		Controls: controls,
		Events:   sinks,
		Metrics:  metrics,
		Notifier: notify,
		Logger:   lg.WithComponent("scheduler"),
	})

	svc := bot.NewService(bot.Deps{
		Store:      store,
		Log:        dlog,
		Engine:     eng,
		Scheduler:  sched,
		Orders:     router,
		Controls:   controls,
		Events:     sinks,
		Metrics:    metrics,
		Notifier:   notify,
		Logger:        lg.WithComponent("bots"),
		FeePercent:    cfg.PaperFeePercent,
		ControlsStore: controlDB,
	})
	if err := svc.RestoreControls(ctx); err != nil {
		log.WithError(err).Fatal("load emergency controls")
	}

	// 1. API server
	srv := api.NewServer(api.Options{
		Addr:             cfg.HTTPAddr,
		APIKey:           cfg.APIKey,
		CORSOrigin:       cfg.CORSAllowOrigin,
		Service:          svc,
		Hub:              hub,
		Metrics:          monitoring.Handler(reg),
		Checks:           checks,
		SchedulerRunning: sched.Running,
		Logger:           lg.WithComponent("api"),
		ErrorLog:         lg.Writer(),
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("API server error")
		}
	}()

	// 2. Scheduler
	sched.Start(ctx)
	notify.Notify(fmt.Sprintf("%s started (storage=%s, tick=%s)", cfg.BotName, cfg.Storage, cfg.TickInterval))
	log.Info("all services started")

	<-ctx.Done()
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API shutdown error")
	}
	sched.Stop(shutdownCtx)
	notify.Wait()
	log.Info("shutdown complete")
}
