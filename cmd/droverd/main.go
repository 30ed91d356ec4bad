package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/croftlabs/drover/internal/api"
	"github.com/croftlabs/drover/internal/config"
	"github.com/croftlabs/drover/internal/dispatch"
	"github.com/croftlabs/drover/internal/doctor"
	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/inspect"
	"github.com/croftlabs/drover/internal/journal"
	"github.com/croftlabs/drover/internal/liveness"
	"github.com/croftlabs/drover/internal/lock"
	"github.com/croftlabs/drover/internal/log"
	"github.com/croftlabs/drover/internal/publish"
	"github.com/croftlabs/drover/internal/storage"
)

const version = "0.1.0"

const defaultConfigPath = "drover.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "journal":
		os.Exit(runJournal(args))
	case "check":
		os.Exit(runCheck(args))
	case "version":
		fmt.Printf("droverd version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`droverd - event-dispatch agent

Usage:
  droverd <command> [flags]

Commands:
  start     Subscribe to the event stream and run the worker pool
  journal   Show recently executed requests, or one request's attempts
  check     Validate the configuration file
  version   Show version information
  help      Show this help message
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Agent.LogLevel)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(*configPath)
	if err != nil {
		logger.Error("failed to fingerprint config", "path", *configPath, "error", err)
		return 1
	}
	logger.Info("droverd starting", "version", version, "config", *configPath, "fingerprint", fingerprint)

	if cfg.Agent.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Agent.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock", "path", cfg.Agent.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	baseURL := dispatch.BaseURL(cfg.Agent.URL)

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal database", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		jrnl = journal.New(db)
		logger.Info("request journal enabled", "path", cfg.Journal.Path)
	}

	publisher := publish.NewHTTP(baseURL, cfg.Agent.AccessKey, cfg.Agent.SecretKey)
	monitor := liveness.NewMonitor(cfg.Agent.StampPath)

	disp := dispatch.New(dispatch.Config{
		URL:             baseURL,
		AccessKey:       cfg.Agent.AccessKey,
		SecretKey:       cfg.Agent.SecretKey,
		AgentID:         cfg.Agent.AgentID,
		Workers:         cfg.Events.Workers,
		QueueDepth:      cfg.Events.QueueDepth,
		ReadTimeout:     cfg.Events.ReadTimeout,
		MaxDropped:      cfg.Events.MaxDropped,
		MaxDroppedPings: cfg.Events.MaxDroppedPings,
	}, newExecutor(), publisher, monitor, jrnl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Status.Enabled {
		statusServer := api.New(api.Config{Listen: cfg.Status.Listen}, disp, log.WithComponent("api"))
		go func() {
			if err := statusServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server enabled", "listen", cfg.Status.Listen)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- disp.Run(ctx, cfg.Events.Names) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-runDone
	case err := <-runDone:
		if err != nil {
			logger.Error("subscription failed", "error", err)
			return 1
		}
	}

	logger.Info("droverd stopped")
	return 0
}

func runJournal(args []string) int {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	jsonOut := fs.Bool("json", false, "Output request report in JSON")

	// Accept the optional request id before or after the flags.
	var requestID string
	var remaining []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && requestID == "" {
			requestID = arg
		} else {
			remaining = append(remaining, arg)
		}
	}
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "No journal configured (journal.path is empty)")
		return 1
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal database: %v\n", err)
		return 1
	}
	defer db.Close()

	if requestID != "" {
		var report string
		if *jsonOut {
			report, err = inspect.BuildJSONReport(context.Background(), db, requestID)
		} else {
			report, err = inspect.BuildReport(context.Background(), db, requestID)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
			return 1
		}
		fmt.Print(report)
		return 0
	}

	entries, err := journal.New(db).Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty.")
		return 0
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s %-24s %s (%s)",
			e.StartedAt.Local().Format(time.RFC3339), e.Outcome, e.Name, e.RequestID, e.Duration)
		if e.Error != "" {
			line += fmt.Sprintf("  error=%s", e.Error)
			if e.ErrorID != "" {
				line += fmt.Sprintf(" error_id=%s", e.ErrorID)
			}
		}
		fmt.Println(line)
	}
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	fingerprint, err := config.Fingerprint(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
		fmt.Printf("  fingerprint: %s\n", fingerprint)
		fmt.Printf("  agent url:   %s\n", dispatch.BaseURL(cfg.Agent.URL))
		fmt.Printf("  events:      %v\n", cfg.Events.Names)
		fmt.Printf("  workers:     %d (queue depth %d)\n", cfg.Events.Workers, cfg.Events.QueueDepth)
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// executor is the built-in handler table. The agent core only ships a ping
// responder; resource handlers register here as they are added.
type executor struct {
	handlers map[string]func(context.Context, *event.Request) (*event.Response, error)
}

func newExecutor() *executor {
	e := &executor{handlers: map[string]func(context.Context, *event.Request) (*event.Response, error){}}
	e.handlers["ping"] = handlePing
	return e
}

func (e *executor) Execute(ctx context.Context, req *event.Request) (*event.Response, error) {
	handler, ok := e.handlers[req.Name]
	if !ok {
		return nil, fmt.Errorf("no handler for event %q", req.Name)
	}
	return handler(ctx, req)
}

func handlePing(_ context.Context, req *event.Request) (*event.Response, error) {
	return event.Reply(req, nil), nil
}
