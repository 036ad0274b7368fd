package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	alertapi "github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/api"
	adb "github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/database"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/dispatch"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/evaluator"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/scheduler"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/config"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/metrics"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/middleware"
)

func main() {
	log.Info().Msg("Starting alertsvc")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := adb.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// stores
	alerts := adb.NewAlertRepo(db)
	notifications := adb.NewNotificationRepo(db)
	deliveries := adb.NewDeliveryRepo(db)
	prefs := adb.NewPreferenceRepo(db)

	// evaluator
	policy := evaluator.DefaultPolicy()
	if cfg.Alerting.Policy.File != "" {
		if policy, err = evaluator.LoadPolicyFile(cfg.Alerting.Policy.File); err != nil {
			log.Fatal().Err(err).Str("file", cfg.Alerting.Policy.File).Msg("failed to load alert policy")
		}
	}
	eval := evaluator.New(adb.NewSQLDataProvider(db), evaluator.NewRedisCooldownStore(rdb), policy)

	// dispatch
	queue := scheduler.NewRedisQueue(rdb)
	limiter := dispatch.NewRedisRateLimiter(rdb, cfg.Alerting.RateLimit.HourlyLimit, cfg.Alerting.RateLimit.DailyLimit)
	breaker := dispatch.NewBreaker(
		cfg.Alerting.Breaker.FailureThreshold,
		parseDuration(cfg.Alerting.Breaker.FailureWindow, 2*time.Minute),
		parseDuration(cfg.Alerting.Breaker.OpenCooldown, time.Minute),
	)
	orch := dispatch.NewOrchestrator(alerts, notifications, deliveries, prefs, limiter, breaker,
		scheduler.QueueRetryScheduler{Queue: queue})
	orch.MaxAttempts = cfg.Alerting.Delivery.MaxAttempts
	orch.SendTimeout = parseDuration(cfg.Alerting.Delivery.SendTimeout, 10*time.Second)
	orch.Backoff = dispatch.Backoff{
		Base:   parseDuration(cfg.Alerting.Delivery.BackoffBase, 30*time.Second),
		Max:    parseDuration(cfg.Alerting.Delivery.BackoffMax, time.Hour),
		Jitter: 0.1,
	}
	httpClient := &http.Client{Timeout: orch.SendTimeout}
	orch.RegisterAdapter(dispatch.NewEmailAdapter(cfg.Alerting.Delivery.EmailGateway, httpClient))
	orch.RegisterAdapter(dispatch.NewSMSAdapter(cfg.Alerting.Delivery.SMSGateway, httpClient))

	// scheduler and worker pool
	sch := scheduler.New(scheduler.Deps{
		Alerts:    alerts,
		Evaluator: eval,
		Deliverer: orch,
		Queue:     queue,
		Batch:     cfg.Alerting.Scheduler.Batch,
		Interval:  parseDuration(cfg.Alerting.Scheduler.Interval, 5*time.Minute),
		PollIdle:  parseDuration(cfg.Alerting.Scheduler.PollIdle, time.Second),
	})
	go sch.StartTicker(ctx)
	workers := cfg.Alerting.Scheduler.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go sch.StartWorker(ctx)
	}

	// metrics endpoint on its own port
	msrv := metrics.NewServer(cfg.Metrics.BindAddr)
	go func() {
		if err := msrv.Start(); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = msrv.Shutdown(shutdownCtx)
	}()

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.Authentication(cfg.Server.AuthToken))
	alertapi.NewApi(router, sch, scheduler.NewIngress(queue), deliveries, queue)

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start alertsvc api server failed.")
	}
	log.Info().Msg("alertsvc exit...")
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
