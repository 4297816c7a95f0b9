// Command flowclip runs the capture pipeline core: it connects the durable
// store and the model provider, wires the Core, starts the session
// expiration sweeper, and optionally bridges pipeline events onto a Pulse
// stream over Redis for out-of-process UIs.
//
// # Configuration
//
// A YAML file supplied with -config seeds the configuration; environment
// variables override individual options:
//
//	SESSION_IDLE_TIMEOUT        - session expiration (default: "10m")
//	SESSION_JOIN_WINDOW         - candidate search horizon (default: "20m")
//	SESSION_JOIN_MIN_CONFIDENCE - membership bar (default: 0.6)
//	SESSION_RESEARCH_DEBOUNCE   - research debounce (default: "1s")
//	MODEL_MAX_INFLIGHT          - global model request cap (default: 4)
//	MODEL_MAX_RETRIES           - transient retry budget (default: 3)
//	AUTOMATION_RATE_LIMIT       - per-session webhook interval (default: "60s")
//	AUTOMATION_REQUEST_TIMEOUT  - webhook timeout (default: "30s")
//	ANTHROPIC_API_KEY           - provider credentials
//	MONGO_URI                   - store location (default: "mongodb://localhost:27017")
//	REDIS_ADDR                  - optional event bridge Redis address
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	flowclip "github.com/flowclip/flowclip"
	mongostore "github.com/flowclip/flowclip/features/store/mongo"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/telemetry"

	anthropicmodel "github.com/flowclip/flowclip/features/model/anthropic"
	openaimodel "github.com/flowclip/flowclip/features/model/openai"
	streampulse "github.com/flowclip/flowclip/features/stream/pulse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to the YAML configuration file")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatText))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := flowclip.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	mc, err := mongodriver.Connect(ctx, mongoopts.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		if err := mc.Disconnect(context.Background()); err != nil {
			log.Errorf(ctx, err, "disconnect mongo")
		}
	}()
	st, err := mongostore.New(mongostore.Options{Client: mc, Database: cfg.Mongo.Database})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	client, err := buildModelClient(cfg)
	if err != nil {
		return err
	}

	core, err := flowclip.New(ctx, cfg, flowclip.Deps{
		Store:   st,
		Model:   client,
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(context.Background()); err != nil {
			log.Errorf(ctx, err, "close core")
		}
	}()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer func() { _ = rdb.Close() }()
		pc, err := streampulse.New(streampulse.Options{Redis: rdb})
		if err != nil {
			return fmt.Errorf("pulse client: %w", err)
		}
		bridge, err := streampulse.NewBridge(streampulse.BridgeOptions{
			Client:     pc,
			StreamName: cfg.Redis.Stream,
			Logger:     telemetry.NewClueLogger(),
		})
		if err != nil {
			return fmt.Errorf("event bridge: %w", err)
		}
		defer bridge.Close()
		if _, err := core.Bus.Register(bridge); err != nil {
			return err
		}
		log.Infof(ctx, "event bridge connected to %s", cfg.Redis.Addr)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go core.Sessions.RunSweeper(sweepCtx)

	log.Infof(ctx, "flowclip core running (provider=%s, db=%s)", cfg.Model.Provider, cfg.Mongo.Database)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Infof(ctx, "shutting down")
	return nil
}

func buildModelClient(cfg flowclip.Config) (model.Client, error) {
	switch cfg.Model.Provider {
	case "", "anthropic":
		return anthropicmodel.NewFromAPIKey(cfg.Model.APIKey, cfg.Model.Model)
	case "openai":
		return openaimodel.NewFromAPIKey(cfg.Model.APIKey, cfg.Model.Model)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}
