package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/persistence"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "taskflow",
		Short:         "Run workflows whose DAG grows while it executes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file to use instead of .taskflow/config.json")
	flags.StringVar(&opts.dbPath, "db", "", "Workflow database path (overrides database_path)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON lines")

	root.AddCommand(
		newRunCmd(opts),
		newShowCmd(opts),
		newListCmd(opts),
		newPresetsCmd(opts),
	)

	return root
}

// app holds what a command needs once flags and config are resolved.
type app struct {
	cfg         *config.Config
	globalPath  string
	projectPath string
	log         logger.Logger
	store       *persistence.SQLiteStore
	out         io.Writer
	logFile     *os.File
}

// loadConfig merges the config files and applies flag overrides.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, string, string, error) {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, "", "", err
	}
	projectPath := config.ProjectPath()
	if o.configPath != "" {
		projectPath = o.configPath
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabasePath = o.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	return cfg, globalPath, projectPath, nil
}

// setup loads config, builds the logger and opens the store. With logToFile
// the log goes next to the database instead of stderr, so it does not draw
// over a full-screen UI.
func (o *globalOptions) setup(cmd *cobra.Command, logToFile bool) (*app, error) {
	cfg, globalPath, projectPath, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		out:         cmd.OutOrStdout(),
	}

	logOut := cmd.ErrOrStderr()
	if logToFile {
		path := filepath.Join(filepath.Dir(cfg.DatabasePath), "taskflow.log")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.JSON = cfg.Log.JSON
	logCfg.Output = logOut
	a.log = logger.New(logCfg)

	store, err := persistence.NewSQLiteStore(cmd.Context(), cfg.DatabasePath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening workflow store: %w", err)
	}
	a.store = store

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close workflow store", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
