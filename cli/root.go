// Package cli implements the mh-flight-logs command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	verbose   int

	archiveDir  string
	dbPath      string
	templateDir string
}

// app carries configuration and output streams into the commands.
type app struct {
	opts   globalOptions
	cfg    *config.Config
	log    *logger.Logger
	stdout io.Writer
	stderr io.Writer

	loadConfig func() (*config.Config, error)
	now        func() time.Time
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.Load,
		now:        time.Now,
	}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mh-flight-logs",
		Short: "Is MH late again? Polls flight delays, stores them and posts a daily summary.",
		// usage on every runtime error drowns the actual message
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	pf.StringVar(&a.opts.logFormat, "log-format", "", "log format: text or json (default from LOG_FORMAT)")
	pf.CountVarP(&a.opts.verbose, "verbose", "v", "enable debug logging")
	pf.StringVar(&a.opts.archiveDir, "archive-dir", "", "directory holding archived API responses (default from ARCHIVE_DIR)")
	pf.StringVar(&a.opts.dbPath, "db-path", "", "path to the sqlite database (default from DB_PATH)")
	pf.StringVar(&a.opts.templateDir, "template-dir", "", "directory with a report.tmpl overriding the built-in template")

	// accept the historical flag spellings
	pf.StringVar(&a.opts.archiveDir, "json_dir", "", "alias for --archive-dir")
	pf.StringVar(&a.opts.dbPath, "db_path", "", "alias for --db-path")
	_ = pf.MarkHidden("json_dir")
	_ = pf.MarkHidden("db_path")

	root.AddCommand(
		a.runCommand(),
		a.reportCommand(),
		a.serveCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads configuration, applies flag overrides and initialises logging.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.opts.logLevel != "" {
		cfg.LoggingConfig.Level = a.opts.logLevel
	}
	if a.opts.verbose > 0 {
		cfg.LoggingConfig.Level = "debug"
	}
	if a.opts.logFormat != "" {
		cfg.LoggingConfig.Format = a.opts.logFormat
	}
	if a.opts.archiveDir != "" {
		cfg.ArchiveConfig.Dir = a.opts.archiveDir
	}
	if a.opts.dbPath != "" {
		cfg.StoreConfig.Path = a.opts.dbPath
	}
	if a.opts.templateDir != "" {
		cfg.ReportConfig.TemplateDir = a.opts.templateDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Level:  cfg.LoggingConfig.Level,
		Format: cfg.LoggingConfig.Format,
		Output: a.stderr,
	})
	return nil
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}
