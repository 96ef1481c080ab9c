package main

import (
	"log"
	"os"
	"time"

	"github.com/haatos/deplora/internal"
	"github.com/haatos/deplora/internal/handler"
	"github.com/haatos/deplora/internal/jenkins"
	"github.com/haatos/deplora/internal/service"
	"github.com/haatos/deplora/internal/settings"
	"github.com/haatos/deplora/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", internal.ConfigPath, "path of the runtime configuration file")
	dotenvPath := pflag.String("dotenv", internal.DotEnvPath, "path of the .env file")
	pflag.Parse()

	settings.ReadDotenv(*dotenvPath)
	settings.Settings = settings.NewSettings()
	if err := settings.Settings.PromptJenkinsToken(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
	internal.InitializeConfiguration(*configPath)
	config := internal.Config

	driver := settings.Settings.DatabaseDriver
	rdb := store.InitDatabase(driver, settings.Settings.DatabaseDSN(true), true)
	defer rdb.Close()
	rwdb := store.InitDatabase(driver, settings.Settings.DatabaseDSN(false), false)
	defer rwdb.Close()
	if err := store.RunMigrations(rwdb, driver); err != nil {
		log.Fatal(err)
	}

	clock := clockwork.NewRealClock()
	scheduler := service.NewScheduler(clock)
	defer scheduler.Shutdown()

	sessionStore := store.NewSessionSQLStore(rdb, rwdb)
	if err := sessionStore.ScheduleDailyCleanUp(
		scheduler, time.Duration(config.SessionExpiresHours),
	); err != nil {
		log.Fatal(err)
	}
	scheduler.Start()

	client := jenkins.NewClient(
		settings.Settings.JenkinsURL,
		settings.Settings.JenkinsUsername,
		settings.Settings.JenkinsAPIToken,
		time.Duration(config.RequestTimeout),
	)
	queue := service.NewDeploymentQueue(config.Workers, config.QueueSize)
	queue.Start()
	defer queue.Shutdown()

	deploymentSvc := service.NewDeploymentService(
		sessionStore,
		service.NewProvisioner(client, service.ProvisionerOptions{
			OrganizationSecrets: config.OrganizationSecrets,
			OrganizationEnv:     config.OrganizationEnv,
			ValidateScript:      config.ValidateScript,
		}),
		service.NewBuildController(client, clock, time.Duration(config.SettleDelay)),
		service.NewReconciler(client, config.LogFetchLimit),
		service.NewPublisher(sessionStore, clock),
		queue,
		clock,
		service.DeploymentOptions{
			PipelineName: config.PipelineName,
			PollInterval: time.Duration(config.PollInterval),
		},
	)

	e := setupEcho()
	g := e.Group("")
	if settings.Settings.APIToken != "" {
		g.Use(handler.APITokenAuth(settings.Settings.APIToken))
	} else {
		log.Println("DEPLORA_API_TOKEN not set, the API is unauthenticated")
	}
	handler.SetupDeploymentRoutes(g, deploymentSvc)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.Recover(),
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
