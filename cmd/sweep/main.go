package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/dispatch"
	"github.com/dante-gpu/dante-sweep/internal/executor"
	"github.com/dante-gpu/dante-sweep/internal/gpu"
	"github.com/dante-gpu/dante-sweep/internal/hostinfo"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/dante-gpu/dante-sweep/internal/nats"
	"github.com/dante-gpu/dante-sweep/internal/session"
	"github.com/dante-gpu/dante-sweep/internal/snapshot"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Version   = "dev"     // Injected at build time
	BuildDate = "unknown" // Injected at build time
)

// CLI flags
var (
	configPath            = flag.String("config", filepath.Join("configs", "sweep.yaml"), "Path to the configuration file")
	dryRun                = flag.Bool("dry-run", false, "Plan and log every session without snapshotting or launching anything")
	planJSON              = flag.Bool("plan-json", false, "Discover idle GPUs, output the dispatch plan as JSON, then exit")
	getGpusJSON           = flag.Bool("get-gpus-json", false, "Query GPU utilization and output as JSON, then exit")
	getSystemOverviewJSON = flag.Bool("get-system-overview-json", false, "Get system overview (CPU, RAM, Disk, Uptime) as JSON, then exit")
	listSessions          = flag.Bool("list-sessions", false, "Print the session backend's listing, then exit")
	attachSession         = flag.String("attach", "", "Attach the terminal to the named session")
)

func main() {
	flag.Parse()

	tempLogger, _ := setupLogger("info", filepath.Join("logs", "sweep"))
	cfg, err := config.LoadConfig(*configPath, tempLogger)
	if err != nil {
		tempLogger.Error("Failed to load configuration", zap.Error(err), zap.String("path", *configPath))
		_ = tempLogger.Sync()
		os.Exit(1)
	}

	logger, err := setupLogger(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		tempLogger.Fatal("Failed to setup logger with config level", zap.Error(err))
	}
	defer logger.Sync()
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := executor.NewCommandRunner(logger, cfg.Resources.QueryTimeout)

	// --- Handle CLI Commands ---
	if *getGpusJSON {
		handleGetGpusJSON(ctx, cfg, runner, logger)
		return
	}
	if *getSystemOverviewJSON {
		handleGetSystemOverviewJSON(ctx, cfg, logger)
		return
	}
	if *planJSON {
		handlePlanJSON(ctx, cfg, runner, logger)
		return
	}
	if *listSessions {
		handleListSessions(ctx, cfg, runner, logger)
		return
	}
	if *attachSession != "" {
		handleAttach(ctx, cfg, runner, logger, *attachSession)
		return
	}

	code := runDispatch(ctx, cfg, runner, logger)
	_ = logger.Sync()
	os.Exit(code)
}

// runDispatch discovers idle GPUs and launches the grid on them. It returns
// the process exit code.
func runDispatch(ctx context.Context, cfg *config.Config, runner executor.Runner, logger *zap.Logger) int {
	logger.Info("Starting Dante sweep dispatcher",
		zap.String("version", Version),
		zap.String("buildDate", BuildDate),
		zap.String("backend", cfg.Session.Backend),
		zap.String("launchPolicy", cfg.Dispatch.LaunchPolicy),
		zap.Bool("dryRun", *dryRun),
	)

	overview := hostinfo.Collect(ctx, overviewDiskPath(cfg), logger)
	logger.Info("Host overview", zap.Any("overview", overview))

	detector := gpu.NewDetector(&cfg.Resources, runner, logger)
	resources, err := detector.Discover(ctx)
	if err != nil {
		logger.Error("Resource discovery failed", zap.Error(err))
		return 1
	}

	launcher, err := session.New(&cfg.Session, runner, logger)
	if err != nil {
		logger.Error("Failed to initialize session backend", zap.Error(err))
		return 1
	}
	defer launcher.Close()

	opts := dispatch.Options{DryRun: *dryRun, Host: overview.Hostname}
	if !*dryRun {
		if cfg.Snapshot.Enabled {
			opts.Snapshotter = snapshot.New(cfg.Snapshot, logger)
		}
		publisher := nats.NewPublisher(cfg.Nats, logger)
		defer publisher.Close()
		opts.Publisher = publisher
	}

	dispatcher := dispatch.New(cfg, launcher, opts, logger)
	handles, err := dispatcher.Dispatch(ctx, &cfg.Grid, resources)
	for _, h := range handles {
		logger.Info("Session running", zap.Stringer("session", h))
		fmt.Fprintf(os.Stdout, "%s\t%s\tgpu %d\t%d combination(s)\n", h.Name, h.Backend, h.ResourceID, h.Combinations)
	}
	if err != nil {
		logger.Error("Dispatch failed", zap.Error(err))
		return 1
	}
	return 0
}

func handleGetGpusJSON(ctx context.Context, cfg *config.Config, runner executor.Runner, logger *zap.Logger) {
	logger.Info("CLI command: --get-gpus-json")
	detector := gpu.NewDetector(&cfg.Resources, runner, logger)

	devices, err := detector.Utilization(ctx)
	if err != nil {
		outputJSONError(fmt.Sprintf("Failed to query GPUs: %v", err), os.Stderr, logger)
		return
	}

	remap := detector.Remap()
	cliGPUs := make([]models.CliGpuUtilization, 0, len(devices))
	for _, d := range devices {
		cliGPUs = append(cliGPUs, models.CliGpuUtilization{
			Index:                 int(d.Index),
			EffectiveIndex:        int(remap.Apply(d.Index)),
			UtilizationGPUPercent: d.Utilization,
			Idle:                  d.Utilization <= cfg.Resources.IdleUtilization,
		})
	}
	outputJSON(cliGPUs, logger)
}

func handleGetSystemOverviewJSON(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	logger.Info("CLI command: --get-system-overview-json")
	overview := hostinfo.Collect(ctx, overviewDiskPath(cfg), logger)
	logger.Info("System overview data collected", zap.Any("overview", overview))
	outputJSON(overview, logger)
}

func handlePlanJSON(ctx context.Context, cfg *config.Config, runner executor.Runner, logger *zap.Logger) {
	logger.Info("CLI command: --plan-json")
	detector := gpu.NewDetector(&cfg.Resources, runner, logger)

	resources, err := detector.Discover(ctx)
	if err != nil {
		outputJSONError(fmt.Sprintf("Failed to discover GPUs: %v", err), os.Stderr, logger)
		return
	}

	// Planning never touches the launcher.
	dispatcher := dispatch.New(cfg, nil, dispatch.Options{DryRun: true}, logger)
	plan, err := dispatcher.Plan(&cfg.Grid, resources)
	if err != nil {
		outputJSONError(fmt.Sprintf("Failed to plan dispatch: %v", err), os.Stderr, logger)
		return
	}
	outputJSON(plan.CLI(), logger)
}

func handleListSessions(ctx context.Context, cfg *config.Config, runner executor.Runner, logger *zap.Logger) {
	logger.Info("CLI command: --list-sessions", zap.String("backend", cfg.Session.Backend))
	launcher, err := session.New(&cfg.Session, runner, logger)
	if err != nil {
		logger.Error("Failed to initialize session backend", zap.Error(err))
		os.Exit(1)
	}
	defer launcher.Close()

	listing, err := launcher.List(ctx)
	if err != nil {
		logger.Error("Failed to list sessions", zap.Error(err))
		os.Exit(1)
	}
	fmt.Fprint(os.Stdout, listing)
}

func handleAttach(ctx context.Context, cfg *config.Config, runner executor.Runner, logger *zap.Logger, name string) {
	logger.Info("CLI command: --attach", zap.String("session", name))
	launcher, err := session.New(&cfg.Session, runner, logger)
	if err != nil {
		logger.Error("Failed to initialize session backend", zap.Error(err))
		os.Exit(1)
	}
	defer launcher.Close()

	if err := launcher.Attach(ctx, name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// overviewDiskPath reports on the filesystem snapshots are written to, when
// enabled. The destination may not exist yet, so its nearest existing
// ancestor is used; nothing is created.
func overviewDiskPath(cfg *config.Config) string {
	if !cfg.Snapshot.Enabled {
		return ""
	}
	dir, err := filepath.Abs(cfg.Snapshot.DestRoot)
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func outputJSON(data interface{}, logger *zap.Logger) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal data to JSON for CLI output", zap.Error(err))
		fmt.Fprintf(os.Stdout, "{\"error\": \"Failed to marshal data to JSON: %s\"}\n", err.Error())
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
	_ = logger.Sync()
	os.Exit(0)
}

func outputJSONError(message string, writer *os.File, logger *zap.Logger) {
	logger.Error("CLI command error", zap.String("error_message", message))
	errorData := map[string]string{"error": message}
	jsonData, err := json.Marshal(errorData)
	if err != nil {
		fmt.Fprintf(writer, "{\"error\": \"Failed to marshal error message to JSON. Original error: %s\"}\n", message)
		os.Exit(1)
	}
	fmt.Fprintln(writer, string(jsonData))
	_ = logger.Sync()
	os.Exit(1)
}

func setupLogger(levelString, logDir string) (*zap.Logger, error) {
	var logLevel zapcore.Level
	switch levelString {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "info":
		logLevel = zapcore.InfoLevel
	case "warn":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	case "fatal":
		logLevel = zapcore.FatalLevel
	default:
		fmt.Fprintf(os.Stderr, "Invalid log level specified: %s. Defaulting to info.\n", levelString)
		logLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoderCfg.TimeKey = "ts"
	// stdout is reserved for JSON and session output.
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.AddSync(os.Stderr),
		logLevel,
	)

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		logger := zap.New(consoleCore, zap.AddCaller())
		logger.Warn("Failed to create log directory, logging to console only", zap.String("directory", logDir), zap.Error(err))
		return logger, nil
	}

	logFileName := filepath.Join(logDir, "sweep.log")
	file, err := os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger := zap.New(consoleCore, zap.AddCaller())
		logger.Warn("Failed to open log file, logging to console only", zap.String("path", logFileName), zap.Error(err))
		return logger, nil
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(zapcore.Lock(file)),
		logLevel,
	)

	teeCore := zapcore.NewTee(fileCore, consoleCore)
	return zap.New(teeCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
