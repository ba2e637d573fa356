package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/photocampus/feedengine/app_config"
	"github.com/photocampus/feedengine/distributor"
	"github.com/photocampus/feedengine/engine"
	"github.com/photocampus/feedengine/feed"
	. "github.com/photocampus/feedengine/utils"
	"github.com/photocampus/feedengine/utils/dotenv"
	. "github.com/photocampus/feedengine/utils/flag"
	. "github.com/photocampus/feedengine/utils/log"
)

const (
	// TODO: Move to .env
	feedEventsQueueName = "photocampus_feed_events_queue"

	queueReadTimeoutSeconds = 20
	maxMessagesPerReceive   = 10

	// Protective delay after a receive error
	receiveErrorBackoff = 2 * time.Second
)

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
	InitTracer()
	InitProfiler()

	Log.Info("feed distributor initialized")
}

func cleanup() {
	CloseProfiler()
	CloseTracer()
	Log.Info("feed distributor shutdown")
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

	// Distribution results go onto the in-process bus so the reporter can
	// aggregate them, only the inbound events arrive over SQS.
	eventBus := feed.NewEventBus()
	sink := feed.NewGoChannelEventSink(eventBus)
	dist := distributor.New(db, scorer, cache, sink, dd, opts)

	ctx, cancel := context.WithCancel(context.Background())
	feedEngine := engine.NewEngine([]engine.Module{
		engine.NewReporter(engine.ReporterConfig{Name: "reporter"}, dd, eventBus),
	}, ctx, cancel, eventBus)
	go feedEngine.Run()

	reader, err := distributor.NewSQSMessageQueueReader(feedEventsQueueName, queueReadTimeoutSeconds)
	if err != nil {
		Log.Fatal("fail to initialize SQS message queue reader : ", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		feedEngine.Shutdown()
		cleanup()
		os.Exit(0)
	}()

	Log.Info("feed distributor starts up")
	for {
		messages, err := reader.ReceiveMessages(maxMessagesPerReceive)
		if err != nil {
			Log.Error("fail to receive from queue : ", err)
			time.Sleep(receiveErrorBackoff)
			continue
		}

		for _, msg := range messages {
			raw, err := msg.Read()
			if err != nil {
				Log.Error("fail to read message : ", err)
				continue
			}
			// Failed events are left on the queue for redelivery, the
			// redrive policy parks repeat offenders on the DLQ.
			if err := distributor.DispatchEnvelope(ctx, dist, raw); err != nil {
				Log.Error("fail to process feed event : ", err)
				continue
			}
			if err := reader.DeleteMessage(msg); err != nil {
				Log.Error("fail to delete processed message : ", err)
			}
		}
	}
}
