package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vhvplatform/go-wellness-notifier/internal/consumer"
	"github.com/vhvplatform/go-wellness-notifier/internal/content"
	"github.com/vhvplatform/go-wellness-notifier/internal/dispatch"
	"github.com/vhvplatform/go-wellness-notifier/internal/eligibility"
	"github.com/vhvplatform/go-wellness-notifier/internal/events"
	"github.com/vhvplatform/go-wellness-notifier/internal/handler"
	"github.com/vhvplatform/go-wellness-notifier/internal/jobs"
	"github.com/vhvplatform/go-wellness-notifier/internal/joblog"
	"github.com/vhvplatform/go-wellness-notifier/internal/llm"
	"github.com/vhvplatform/go-wellness-notifier/internal/middleware"
	"github.com/vhvplatform/go-wellness-notifier/internal/repository"
	"github.com/vhvplatform/go-wellness-notifier/internal/resend"
	"github.com/vhvplatform/go-wellness-notifier/internal/scheduler"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/config"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/redis"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
	"github.com/vhvplatform/go-wellness-notifier/internal/webhook"
)

// ServeCmd starts the service
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notification jobs service",
	Long: `Start the HTTP service that runs the notification jobs.

When RABBITMQ_URL is set, signed triggers are also consumed from the
notification_job_triggers queue and job.completed events are published.
When SCHEDULER_ENABLED is true, the jobs are fired on their cron schedules.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Log.Format, cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting wellness notifier...")

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return errors.Wrapf(err, "load timezone %q", cfg.Scheduler.Timezone)
	}

	// MongoDB
	mongoClient, err := mongodb.NewMongoClient(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		return errors.Wrap(err, "connect to mongodb")
	}
	defer mongoClient.Disconnect(context.Background())

	notificationRepo := repository.NewNotificationRepository(mongoClient)
	templateRepo := repository.NewTemplateRepository(mongoClient)
	deliveryRepo := repository.NewTemplateDeliveryRepository(mongoClient)
	profileRepo := repository.NewProfileRepository(mongoClient)
	moodRepo := repository.NewMoodRepository(mongoClient)
	bounceRepo := repository.NewBounceRepository(mongoClient)
	jobLogRepo := repository.NewJobLogRepository(mongoClient)

	for _, repo := range []indexer{notificationRepo, templateRepo, deliveryRepo, profileRepo, bounceRepo, jobLogRepo} {
		if err := repo.EnsureIndexes(ctx); err != nil {
			return errors.Wrap(err, "ensure indexes")
		}
	}

	// Daily caps live in Redis when configured
	var caps eligibility.CapCounter = eligibility.NewStoreCapCounter(notificationRepo)
	if cfg.Redis.URL != "" {
		redisClient, err := redis.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			log.Warn("Redis unavailable, counting caps from notification records", "error", err)
		} else {
			defer redisClient.Close()
			caps = eligibility.NewRedisCapCounter(redisClient)
		}
	}

	verifier := signature.NewVerifier(cfg.Webhook.Secret, log)

	// Channels
	emailClient := resend.NewClient(resend.Config{
		BaseURL: cfg.Resend.BaseURL,
		APIKey:  cfg.Resend.APIKey,
		Timeout: cfg.Resend.Timeout,
		RPS:     cfg.Resend.RPS,
	})
	email := dispatch.NewEmailChannel(emailClient, bounceRepo, dispatch.EmailConfig{
		From:       fmt.Sprintf("%s <%s>", cfg.Resend.FromName, cfg.Resend.FromEmail),
		MaxRetries: dispatch.DefaultMaxRetries,
		Backoff:    dispatch.DefaultBackoff,
	}, log)
	dispatcher := dispatch.NewDispatcher(notificationRepo, log, dispatch.NewInAppChannel(notificationRepo), email)

	// Content
	llmClient := llm.NewClient(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
		RPS:       cfg.LLM.RPS,
	})
	generator := content.NewGenerator(llmClient, moodRepo)

	writer := joblog.NewWriter(jobLogRepo, log)
	runner := jobs.NewRunner(writer, eligibility.NewSelector(profileRepo, caps, log), dispatcher, jobs.RunnerConfig{
		Concurrency: cfg.Jobs.Concurrency,
		RunTimeout:  cfg.Jobs.RunTimeout,
		Location:    loc,
	}, log).
		WithEmailPreflight(email).
		WithCaps(caps).
		WithTemplateDeliveries(deliveryRepo)

	service := jobs.NewService(runner,
		jobs.NewDailyMessageJob(generator, cfg.Jobs.DailyCap),
		jobs.NewTriviaJob(templateRepo, deliveryRepo),
		jobs.NewDigestJob(generator),
	)

	// RabbitMQ
	if cfg.RabbitMQ.URL != "" {
		dial := func() (*rabbitmq.RabbitMQClient, error) {
			return rabbitmq.NewRabbitMQClient(cfg.RabbitMQ.URL)
		}

		if brokerClient, err := dial(); err != nil {
			log.Error("Failed to connect to RabbitMQ, job events disabled", "error", err)
		} else {
			defer brokerClient.Close()
			publisher, err := events.NewPublisher(brokerClient)
			if err != nil {
				log.Error("Failed to set up job event publisher", "error", err)
			} else {
				runner.WithPublisher(publisher)
			}
		}

		triggerConsumer := consumer.NewTriggerConsumer(dial, service, verifier, log)
		go triggerConsumer.Run(ctx)
	}

	// Runs abandoned by a previous process
	if n, err := writer.ReapStale(ctx, cfg.Jobs.StaleRunAfter); err != nil {
		log.Error("Failed to reap stale job runs", "error", err)
	} else if n > 0 {
		log.Warn("Reaped stale job runs", "count", n)
	}

	// Scheduler; the reaper always runs, the job entries only when enabled
	var entries []scheduler.Entry
	if cfg.Scheduler.Enabled {
		entries = scheduler.Entries(scheduler.Specs{
			Morning:      cfg.Scheduler.MorningSpec,
			Evening:      cfg.Scheduler.EveningSpec,
			TriviaStart:  cfg.Scheduler.TriviaStartSpec,
			TriviaRemind: cfg.Scheduler.TriviaRemindSpec,
			Digest:       cfg.Scheduler.DigestSpec,
		})
	}
	triggers := scheduler.NewTriggerClient(cfg.Scheduler.TargetURL, cfg.Webhook.Secret, cfg.Jobs.RunTimeout+time.Minute)
	jobScheduler := scheduler.NewJobScheduler(triggers, writer, cfg.Jobs.StaleRunAfter, loc, log)
	if err := jobScheduler.Start(entries, cfg.Scheduler.ReaperSpec); err != nil {
		return errors.Wrap(err, "start scheduler")
	}
	defer jobScheduler.Stop()

	// HTTP
	if cfg.Server.OperatorToken == "" {
		log.Warn("SERVER_OPERATOR_TOKEN not set, job log API disabled")
	}
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.Routes{
		Jobs:          handler.NewJobHandler(service, log),
		JobLogs:       handler.NewJobLogHandler(jobLogRepo, notificationRepo, log),
		EmailEvents:   webhook.NewEmailEventHandler(bounceRepo, log),
		Health:        handler.NewHealthHandler(mongoClient),
		Verifier:      verifier,
		RateLimiter:   middleware.NewKeyedRateLimiter(cfg.Server.TriggerRPS, cfg.Server.TriggerBurst),
		OperatorToken: cfg.Server.OperatorToken,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Wellness notifier started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	log.Info("Shutting down wellness notifier...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Wellness notifier stopped")
	return nil
}
