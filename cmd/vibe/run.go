package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vibe-run/vibe/internal/ai"
	"github.com/vibe-run/vibe/internal/async"
	"github.com/vibe-run/vibe/internal/cache"
	"github.com/vibe-run/vibe/internal/config"
	"github.com/vibe-run/vibe/internal/cost"
	"github.com/vibe-run/vibe/internal/driver"
	"github.com/vibe-run/vibe/internal/hostblock"
	"github.com/vibe-run/vibe/internal/logging"
	"github.com/vibe-run/vibe/internal/metrics"
	"github.com/vibe-run/vibe/internal/observability"
	"github.com/vibe-run/vibe/internal/program"
	"github.com/vibe-run/vibe/internal/ratelimit"
	"github.com/vibe-run/vibe/internal/runlog"
	"github.com/vibe-run/vibe/internal/secrets"
	"github.com/vibe-run/vibe/internal/state"
	"github.com/vibe-run/vibe/internal/tools"
	"github.com/vibe-run/vibe/internal/value"
)

func runCmd() *cobra.Command {
	var args []string

	cmd := &cobra.Command{
		Use:   "run <program.json>",
		Short: "Run a compiled program tree to completion",
		Long: `Run executes a program tree that has already been parsed and validated
into the runtime's JSON-encoded instruction format. Source parsing and
semantic analysis are a separate concern from this runtime; "vibe run"
only consumes the already-validated tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			return runProgram(cliArgs[0], args)
		},
	}
	cmd.Flags().StringArrayVar(&args, "arg", nil, "bind a top-level name=value argument (repeatable)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func runProgram(programPath string, rawArgs []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

	if err := observability.Init(context.Background(), observability.Config{
		Enabled:     cfg.Observability.Enabled,
		Exporter:    cfg.Observability.Exporter,
		Endpoint:    cfg.Observability.Endpoint,
		ServiceName: cfg.Observability.ServiceName,
		SampleRate:  cfg.Observability.SampleRate,
	}); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
	}

	data, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("read program file: %w", err)
	}
	var tree program.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode program tree: %w", err)
	}
	if tree.Functions == nil {
		tree.Functions = make(map[string]*program.FunctionDef)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer cancel()

	toolRegistry := tools.New(cfg.Tools.RootDir)

	var secretsResolver *secrets.Resolver
	if cfg.Secrets.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Secrets.RedisAddr,
			Password: cfg.Secrets.RedisPassword,
			DB:       cfg.Secrets.RedisDB,
		})
		var cipher *secrets.Cipher
		switch {
		case cfg.Secrets.MasterKeyFile != "":
			cipher, err = secrets.NewCipherFromFile(cfg.Secrets.MasterKeyFile)
		case cfg.Secrets.MasterKey != "":
			cipher, err = secrets.NewCipher(cfg.Secrets.MasterKey)
		default:
			err = fmt.Errorf("secrets enabled but no master key configured")
		}
		if err != nil {
			return fmt.Errorf("configure secrets: %w", err)
		}
		secretsResolver = secrets.NewResolver(secrets.NewStore(rc, cipher))
	}

	var logger ai.RunLogger
	var runlogStore *runlog.Store
	if cfg.Runlog.Enabled {
		runlogStore, err = runlog.NewStore(ctx, cfg.Runlog.DSN)
		if err != nil {
			return fmt.Errorf("connect run log store: %w", err)
		}
		defer runlogStore.Close()
		logger = runlogStore
	}

	costCalc := cost.NewCalculator(nil)

	var ctxCache *ai.ContextCache
	if cfg.Cache.Enabled {
		ctxCache = ai.NewContextCache(cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.Prefix,
		}))
	}

	var limiter ratelimit.Backend
	if cfg.RateLimit.Enabled {
		rlClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(rlClient))
	}

	aiEngine := ai.NewEngine(ai.Config{
		MaxRetries:            cfg.LM.MaxRetries,
		RetryBaseDelay:        cfg.LM.RetryBaseDelay,
		BreakerErrorPct:       cfg.LM.BreakerErrorPct,
		BreakerWindow:         cfg.LM.BreakerWindow,
		BreakerOpenFor:        cfg.LM.BreakerOpenFor,
		RateLimitBurst:        cfg.RateLimit.Burst,
		RateLimitRefillPerSec: cfg.RateLimit.RefillPerSec,
	}, toolRegistry, secretsResolver, costCalc, logger, ctxCache, limiter)

	hostEval := hostblock.New()
	hostEval.Timeout = cfg.HostBlock.Timeout

	var d *driver.Driver
	sched := async.NewScheduler(cfg.Scheduler.MaxParallel, func(ctx context.Context, s *state.State) (*state.State, error) {
		return d.RunUntilPause(ctx, s)
	})
	d = driver.New(aiEngine, hostEval, toolRegistry, sched)

	runID := uuid.New().String()
	if runlogStore != nil {
		ctx = runlog.WithRun(ctx, runID)
	}

	s := state.CreateInitialState(&tree, cfg.Tools.RootDir, cfg.Scheduler.MaxParallel)
	for _, binding := range rawArgs {
		name, val, ok := strings.Cut(binding, "=")
		if !ok {
			return fmt.Errorf("invalid --arg %q, expected name=value", binding)
		}
		s.CurrentFrame().Declare(name, value.Wrap(val, value.SourceLiteral, value.TypeText))
	}
	d.Engine.LoadProgram(s, &tree)

	start := time.Now()
	final, err := d.RunUntilPause(ctx, s)
	duration := time.Since(start)

	summary := &logging.RunLog{
		RunID:      runID,
		Program:    programPath,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		summary.Success = false
		summary.Error = err.Error()
		logging.Default().Log(summary)
		return err
	}
	summary.Success = final.Status != state.StatusError

	out, _ := json.MarshalIndent(final.LastResult.Payload, "", "  ")
	fmt.Println(string(out))
	logging.Default().Log(summary)
	return nil
}
