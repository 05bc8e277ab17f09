package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"cadence/channels"
	"cadence/config"
	"cadence/middleware"
	"cadence/routes"
	"cadence/services"
	"cadence/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		config.Log.Fatalf("Failed to load configuration: %v", err)
	}
	log := config.InitLogger()

	if err := config.InitSentry(); err != nil {
		log.WithError(err).Warn("Sentry initialization failed")
	}
	defer sentry.Flush(2 * time.Second)

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	clock := services.SystemClock
	gate := services.NewDayGate(clock)
	registry := channels.NewRegistry(
		channels.NewLinkedInClient(config.AppConfig.LinkedIn, log.WithField("channel", "linkedin")),
		channels.NewEmailSender(config.AppConfig.SMTP, log.WithField("channel", "email")),
	)

	tracker := services.NewEnrollmentTracker(config.DB, clock, log.WithField("component", "enrollment"))
	dispatcher := services.NewDispatcher(config.DB, registry, tracker, gate, clock, log.WithField("component", "dispatcher"), config.AppConfig.BulkSendDelay)
	queue := services.NewScheduleQueue(config.DB, dispatcher, clock, log.WithField("component", "schedule_queue"), config.AppConfig.StaggerInterval)
	queue.LockTTL = config.AppConfig.Worker.LockTTL

	var limiterStorage fiber.Storage
	if redisClient := middleware.NewRedisClient(config.AppConfig.Redis); redisClient != nil {
		defer redisClient.Close()
		limiterStorage = middleware.NewRedisStorage(redisClient)
		queue.Locker = worker.NewRedisLocker(redisClient)
	}

	svc := routes.Services{
		Cadences:   services.NewCadenceService(config.DB, gate, log.WithField("component", "cadence")),
		Steps:      services.NewStepService(config.DB, log.WithField("component", "step")),
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Queue:      queue,
		Leads:      services.NewLeadService(config.DB, log.WithField("component", "lead")),
		Promotion:  services.NewPromotionService(config.DB, tracker, clock, log.WithField("component", "promotion")),
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               "cadence",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(config.AppConfig.AllowedOrigins))

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})
	routes.SetupRoutes(app, svc, limiterStorage, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scheduleWorker *worker.ScheduleWorker
	if config.AppConfig.Worker.Enabled {
		scheduleWorker = worker.NewScheduleWorker(queue, clock, config.AppConfig.Worker, log.WithField("component", "schedule_worker"))
		if err := scheduleWorker.Start(ctx); err != nil {
			log.Fatalf("Failed to start schedule worker: %v", err)
		}
	}

	go func() {
		log.Infof("Server starting on port %s", config.AppConfig.ServerPort)
		if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()
	if scheduleWorker != nil {
		scheduleWorker.Stop()
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
