package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pixelgen/pixelgen/app/repository"
	"github.com/pixelgen/pixelgen/internal/pkg/cache"
	"github.com/pixelgen/pixelgen/internal/pkg/database"
	"github.com/pixelgen/pixelgen/internal/pkg/env"
	"github.com/pixelgen/pixelgen/internal/pkg/jobqueue"
	"github.com/pixelgen/pixelgen/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Graceful shutdown: stop taking requests, then drain workers
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	jobqueue.GetManager().Stop()
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	cache.SetupCache()

	// Background workers and sweeps
	jobqueue.GetManager().Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024, // submit bodies carry one base64 image
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
