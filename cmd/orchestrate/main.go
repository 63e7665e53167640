// Command orchestrate drains a queue of stories through the
// Autonomous Session Controller: one agent per story, reviewed,
// retried or escalated on failure, until the queue is empty or a
// story needs a human.
//
// Usage:
//
//	orchestrate -config orchestrate.yaml -story story-1,story-2
//	orchestrate -config orchestrate.yaml -resume <session-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hanibalsk/orchestrate"
	"github.com/hanibalsk/orchestrate/pkg/agentloop"
	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/contextwindow"
	"github.com/hanibalsk/orchestrate/pkg/controller"
	"github.com/hanibalsk/orchestrate/pkg/decision"
	"github.com/hanibalsk/orchestrate/pkg/learning"
	"github.com/hanibalsk/orchestrate/pkg/logger"
	"github.com/hanibalsk/orchestrate/pkg/model/anthropic"
	"github.com/hanibalsk/orchestrate/pkg/observability"
	"github.com/hanibalsk/orchestrate/pkg/ratelimit"
	"github.com/hanibalsk/orchestrate/pkg/recovery"
	"github.com/hanibalsk/orchestrate/pkg/review"
	"github.com/hanibalsk/orchestrate/pkg/store"
	"github.com/hanibalsk/orchestrate/pkg/stuck"
	"github.com/hanibalsk/orchestrate/pkg/tool"
	"github.com/hanibalsk/orchestrate/pkg/tool/filetool"
)

func main() {
	configPath := flag.String("config", "orchestrate.yaml", "path to the YAML config file")
	stories := flag.String("story", "", "comma-separated story IDs to enqueue")
	resumeID := flag.String("resume", "", "resume an existing autonomous session by ID")
	tracing := flag.Bool("trace", false, "enable stdout tracing for this run")
	version := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version {
		fmt.Println(orchestrate.GetVersion().String())
		return
	}

	env, err := config.LoadEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load environment: %v\n", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(env.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, "simple")
	log := logger.GetLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = env.DBPath
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := anthropic.New(anthropic.Config{
		APIKey:    env.ProviderAPIKey,
		Model:     cfg.Model.BalancedModel,
		MaxTokens: cfg.Model.MaxOutput,
	})
	if err != nil {
		log.Error("create chat client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obsCfg := &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:  *tracing,
			Exporter: "stdout",
		},
	}
	obsManager, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		log.Error("init observability", "error", err)
		os.Exit(1)
	}
	defer obsManager.Shutdown(ctx)

	reg := tool.NewRegistry()
	registerBuiltinTools(reg)

	ctxMgr := contextwindow.NewManager(contextwindow.HeuristicEstimator{})
	learner := learning.NewEngine(st, cfg.Learning)

	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: true,
		Limits: []ratelimit.LimitRule{
			{Type: ratelimit.LimitTypeToken, Window: ratelimit.WindowHour, Limit: 2_000_000},
			{Type: ratelimit.LimitTypeCount, Window: ratelimit.WindowMinute, Limit: 30},
		},
	}, ratelimit.NewMemoryStore())
	if err != nil {
		log.Error("init rate limiter", "error", err)
		os.Exit(1)
	}

	runner := agentloop.NewRunner(client, st, reg, ctxMgr, learner, cfg.LoopRunner, cfg.Model).
		WithRateLimiter(limiter).
		WithObservability(obsManager.Tracer(), obsManager.Recorder())

	stuckDet := stuck.NewDetector(cfg.Stuck)
	recoverSel := recovery.NewSelector(cfg.Recovery)
	reviewCoord := review.NewCoordinator(cfg.Review)
	decisionEngine := decision.NewEngine(cfg.Decision)

	c, err := controller.New(st, runner, stuckDet, recoverSel, reviewCoord, decisionEngine, cfg.Controller, *resumeID)
	if err != nil {
		log.Error("create session controller", "error", err)
		os.Exit(1)
	}
	c.WithObservability(obsManager.Tracer(), obsManager.Recorder())

	for _, id := range splitAndTrim(*stories) {
		if err := c.Enqueue(store.WorkItem{Kind: "story", TargetID: id, Priority: 1}); err != nil {
			log.Error("enqueue story", "story_id", id, "error", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("stop signal received, pausing session")
		c.Pause()
		cancel()
	}()

	log.Info("session starting", "session_id", c.Session().ID, "queue_depth", len(c.Session().WorkQueue))
	if err := c.Run(ctx); err != nil {
		log.Error("session ended", "session_id", c.Session().ID, "state", c.Session().State, "error", err)
		os.Exit(1)
	}
	log.Info("session completed", "session_id", c.Session().ID, "stories_completed", c.Session().Metrics.StoriesCompleted)
}

func registerBuiltinTools(reg *tool.Registry) {
	if t, err := filetool.NewReadFile(nil); err == nil {
		reg.Register(t)
	} else {
		slog.Warn("read_file tool unavailable", "error", err)
	}
	if t, err := filetool.NewWriteFile(nil); err == nil {
		reg.Register(t)
	} else {
		slog.Warn("write_file tool unavailable", "error", err)
	}
	if t, err := filetool.NewGrepSearch(nil); err == nil {
		reg.Register(t)
	} else {
		slog.Warn("grep_search tool unavailable", "error", err)
	}
}

func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
