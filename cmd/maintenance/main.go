package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/photocampus/feedengine/app_config"
	"github.com/photocampus/feedengine/engine"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/maintenance"
	. "github.com/photocampus/feedengine/utils"
	"github.com/photocampus/feedengine/utils/dotenv"
	. "github.com/photocampus/feedengine/utils/flag"
	. "github.com/photocampus/feedengine/utils/log"
)

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
	InitTracer()
	InitProfiler()

	Log.Info("feed maintenance initialized")
}

func cleanup() {
	CloseProfiler()
	CloseTracer()
	Log.Info("feed maintenance shutdown")
}

func NewDogStatsdClient() *statsd.Client {
	client, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		panic(err)
	}
	return client
}

func main() {
	defer cleanup()

	db, err := GetDBConnection()
	if err != nil {
		Log.Fatal("fail to connect database : ", err)
	}
	DatabaseSetupAndMigration(db)

	opts := feed.DefaultOptions()
	config := maintenance.ModuleConfig{Name: "maintenance"}
	if AppConfigPath != "" {
		appConfig := app_config.ParseFeedAppConfig(AppConfigPath)
		opts = feed.OptionsFromAppConfig(appConfig)
		config.RebuildSpec = appConfig.MAINTENANCE_REBUILD_SPEC
		config.CleanupSpec = appConfig.MAINTENANCE_CLEANUP_SPEC
	}

	dd := NewDogStatsdClient()
	scorer := feed.NewScorer(opts, nil)
	cache := feed.NewRedisPageCache(GetRedisClient(), dd)
	maintainer := maintenance.New(db, scorer, cache, dd, opts)

	ctx, cancel := context.WithCancel(context.Background())
	feedEngine := engine.NewEngine([]engine.Module{
		maintenance.NewModule(config, maintainer, opts),
	}, ctx, cancel, feed.NewEventBus())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		feedEngine.Shutdown()
	}()

	Log.Info("feed maintenance starts up")
	// Blocks until the cron module drains after a signal.
	feedEngine.Run()
}
