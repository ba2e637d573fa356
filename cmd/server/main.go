package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/gin-gonic/gin"
	"github.com/photocampus/feedengine/app_config"
	"github.com/photocampus/feedengine/distributor"
	"github.com/photocampus/feedengine/engine"
	"github.com/photocampus/feedengine/feed"
	"github.com/photocampus/feedengine/server"
	"github.com/photocampus/feedengine/server/middlewares"
	"github.com/photocampus/feedengine/server/resolver"
	. "github.com/photocampus/feedengine/utils"
	"github.com/photocampus/feedengine/utils/dotenv"
	. "github.com/photocampus/feedengine/utils/flag"
	. "github.com/photocampus/feedengine/utils/log"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
)

// init() will always be called on before the execution of main function.
func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
	InitTracer()
	InitProfiler()

	Log.Info("api server initialized")
}

func cleanup() {
	CloseProfiler()
	CloseTracer()
	Log.Info("api server shutdown")
}

func NewDogStatsdClient() *statsd.Client {
	client, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		panic(err)
	}
	return client
}

func feedOptions() feed.Options {
	if AppConfigPath == "" {
		return feed.DefaultOptions()
	}
	return feed.OptionsFromAppConfig(app_config.ParseFeedAppConfig(AppConfigPath))
}

func main() {
	defer cleanup()

	db, err := GetDBConnection()
	if err != nil {
		Log.Fatal("fail to connect database : ", err)
	}
	DatabaseSetupAndMigration(db)

	opts := feedOptions()
	dd := NewDogStatsdClient()
	scorer := feed.NewScorer(opts, nil)
	cache := feed.NewRedisPageCache(GetRedisClient(), dd)

	eventBus := feed.NewEventBus()
	sink := feed.NewGoChannelEventSink(eventBus)
	assembler := feed.NewAssembler(db, cache, scorer, opts)

	ctx, cancel := context.WithCancel(context.Background())

	// The embedded deployment runs distribution in this process, consuming
	// the same bus the resolvers publish to. The split deployment points
	// the sink at SNS and runs cmd/distributor instead.
	feedEngine := engine.NewEngine([]engine.Module{
		distributor.NewModule(
			distributor.ModuleConfig{Name: "distributor"},
			distributor.New(db, scorer, cache, sink, dd, opts),
			eventBus,
		),
		// Reporter reports fan-out metrics to datadog for monitoring purpose.
		engine.NewReporter(engine.ReporterConfig{Name: "reporter"}, dd, eventBus),
	}, ctx, cancel, eventBus)
	go feedEngine.Run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		feedEngine.Shutdown()
		cleanup()
		os.Exit(0)
	}()

	root := &resolver.RootResolver{
		DB:        db,
		Assembler: assembler,
		Sink:      sink,
	}

	extra := []gin.HandlerFunc{gintrace.Middleware(ServiceName)}
	if ByPassAuth {
		extra = append(extra, middlewares.DebugIdentity("local-dev"))
	}

	router := server.NewRouter(root, extra...)

	Log.Info("api server starts up")
	router.Run(":8080")
}
