package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/gateflow/gateflow/config"
	"github.com/gateflow/gateflow/gate"
	"github.com/gateflow/gateflow/internal/metrics"
	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/workflow"
)

// Build-time variables, injected via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	gatesPath := fs.String("gates", "", "Path to gate definitions file (YAML)")
	inputsPath := fs.String("inputs", "", "Path to execution inputs (JSON object)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "run: at least one workflow definition file is required")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	logger.Info("Starting gateflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	env, cleanup := buildEnvironment(cfg, logger)
	defer cleanup()

	if *gatesPath != "" {
		if err := loadGates(*gatesPath, env.gates); err != nil {
			logger.Fatal("Failed to load gate definitions", zap.Error(err))
		}
	}

	inputs := map[string]any{}
	if *inputsPath != "" {
		data, err := os.ReadFile(*inputsPath)
		if err != nil {
			logger.Fatal("Failed to read inputs file", zap.Error(err))
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			logger.Fatal("Failed to parse inputs file", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids := registerFiles(ctx, env.registry, fs.Args(), cfg.Retry, logger)

	exitCode := 0
	for _, id := range ids {
		state, err := env.engine.Execute(ctx, id, inputs)
		if err != nil && state == nil {
			logger.Error("Execution could not start", zap.String("workflow_id", id), zap.Error(err))
			exitCode = 1
			continue
		}
		if state.Status != workflow.StatusCompleted {
			exitCode = 1
		}
		printState(state)
	}
	os.Exit(exitCode)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	gatesPath := fs.String("gates", "", "Path to gate definitions file (YAML)")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "validate: at least one workflow definition file is required")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	env, cleanup := buildEnvironment(cfg, logger)
	defer cleanup()

	if *gatesPath != "" {
		if err := loadGates(*gatesPath, env.gates); err != nil {
			logger.Fatal("Failed to load gate definitions", zap.Error(err))
		}
	}

	ids := registerFiles(context.Background(), env.registry, fs.Args(), cfg.Retry, logger)
	for _, id := range ids {
		fmt.Printf("%s: OK\n", id)
	}
}

// environment bundles the wired collaborators behind a command.
type environment struct {
	registry *workflow.Registry
	engine   *workflow.Engine
	gates    *gate.Catalog
}

func buildEnvironment(cfg *config.Config, logger *zap.Logger) (*environment, func()) {
	gateRegistry := gate.NewRegistry(logger)
	gate.RegisterBuiltins(gateRegistry)
	gateCatalog := gate.NewCatalog(gateRegistry, logger)
	pipeline := gate.NewPipeline(gateRegistry, logger)

	cleanups := []func(){}

	registryOpts := []workflow.RegistryOption{workflow.WithGateCatalog(gateCatalog)}
	if cfg.Database.Enabled {
		catalog, err := store.OpenSQLCatalog(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal("Failed to open catalog database", zap.Error(err))
		}
		cleanups = append(cleanups, func() { catalog.Close() })
		registryOpts = append(registryOpts, workflow.WithCatalogStore(catalog))
	}
	registry := workflow.NewRegistry(logger, registryOpts...)

	engineOpts := []workflow.EngineOption{
		workflow.WithGates(gateCatalog, pipeline),
		workflow.WithMetrics(metrics.NewCollector("gateflow", logger)),
	}
	if cfg.Redis.Enabled {
		archiver, err := store.NewRedisHistory(cfg.Redis.History, logger)
		if err != nil {
			logger.Fatal("Failed to connect history archive", zap.Error(err))
		}
		cleanups = append(cleanups, func() { archiver.Close() })
		engineOpts = append(engineOpts, workflow.WithHistoryArchiver(archiver))
	}

	engine := workflow.NewEngine(cfg.Engine, localAdapter{}, registry, logger, engineOpts...)

	env := &environment{registry: registry, engine: engine, gates: gateCatalog}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return env, cleanup
}

// registerFiles parses and registers every definition file, exiting on the
// first invalid one. Definitions without their own retry block inherit
// defaultRetry from the config.
func registerFiles(ctx context.Context, registry *workflow.Registry, paths []string, defaultRetry workflow.RetryPolicy, logger *zap.Logger) []string {
	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Fatal("Failed to read workflow file", zap.String("path", path), zap.Error(err))
		}
		def, err := workflow.DefinitionFromYAML(data)
		if err != nil {
			logger.Fatal("Failed to parse workflow file", zap.String("path", path), zap.Error(err))
		}
		wf, err := def.ToWorkflow()
		if err != nil {
			logger.Fatal("Invalid workflow definition", zap.String("path", path), zap.Error(err))
		}
		if def.Retry == nil {
			wf.Retry = defaultRetry
		}
		id, err := registry.Register(ctx, wf)
		if err != nil {
			logger.Fatal("Workflow rejected", zap.String("path", path), zap.Error(err))
		}
		ids = append(ids, id)
	}
	return ids
}

// gateFile is the on-disk format of a gate definitions file.
type gateFile struct {
	Gates []*gate.Definition `yaml:"gates"`
}

func loadGates(path string, catalog *gate.Catalog) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading gate file: %w", err)
	}
	var file gateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing gate file %s: %w", path, err)
	}
	for _, def := range file.Gates {
		if err := catalog.Register(def); err != nil {
			return fmt.Errorf("gate %s: %w", def.ID, err)
		}
	}
	return nil
}

// localAdapter is the built-in step adapter for CLI runs. It echoes the
// step's configured output so workflows can be exercised end to end without
// a real runtime behind them.
type localAdapter struct{}

func (localAdapter) ExecuteStep(_ context.Context, step *workflow.Step, _ map[string]*workflow.StepResult) (*workflow.StepResult, error) {
	output, ok := step.Config["output"]
	if !ok {
		output = fmt.Sprintf("step %s executed", step.ID)
	}
	return &workflow.StepResult{Output: output}, nil
}

func printState(state *workflow.ExecutionState) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render execution state: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func loadConfig(path string) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, initLogger(cfg.Log)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("gateflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`gateflow - workflow execution engine with validation gates

Usage:
  gateflow <command> [options] <workflow.yaml>...

Commands:
  run       Register and execute workflow definition files
  validate  Parse and validate workflow definition files
  version   Show version information
  help      Show this help message

Options for 'run' and 'validate':
  --config <path>   Path to configuration file (YAML)
  --gates <path>    Path to gate definitions file (YAML)
  --inputs <path>   Path to execution inputs (JSON object, run only)

Examples:
  gateflow validate pipeline.yaml
  gateflow run --gates gates.yaml pipeline.yaml
  gateflow run --config /etc/gateflow/config.yaml pipeline.yaml`)
}
