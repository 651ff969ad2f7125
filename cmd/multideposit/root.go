package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rkruithof/easy-split-multi-deposit/internal/batch"
	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
)

// rootFlags — флаги, перекрывающие переменные окружения MD_*.
type rootFlags struct {
	stagingDir      string
	outputDir       string
	datamanager     string
	depositor       string
	permissions     string
	group           string
	acceptedFormats []string
	parallelism     int
	journalDir      string
	logLevel        string
	logFormat       string
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:     "multideposit",
		Short:   "Split a multi-deposit batch into individual deposits",
		Version: config.Version,
		Long: `multideposit reads instructions.csv from a batch directory, validates
every deposit it describes and builds each valid deposit as a bag in the
output directory. A failing deposit is rolled back without affecting the
others.

Settings are read from MD_* environment variables; flags take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	f.register(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(f),
		newValidateCmd(f),
		newRecoverCmd(f),
		newReportCmd(f),
	)
	return root
}

// register объявляет флаги в наборе pf.
func (f *rootFlags) register(pf *pflag.FlagSet) {
	pf.StringVar(&f.stagingDir, "staging-dir", "", "staging directory (MD_STAGING_DIR)")
	pf.StringVar(&f.outputDir, "output-dir", "", "output deposit directory (MD_OUTPUT_DIR)")
	pf.StringVarP(&f.datamanager, "datamanager", "m", "", "datamanager id (MD_DATAMANAGER)")
	pf.StringVar(&f.depositor, "depositor", "", "default depositor id (MD_DEPOSITOR)")
	pf.StringVar(&f.permissions, "permissions", "", "deposit permissions, e.g. 0770 or rwxrwx--- (MD_FILE_PERMISSIONS)")
	pf.StringVar(&f.group, "group", "", "deposit owner group (MD_FILE_GROUP)")
	pf.StringSliceVar(&f.acceptedFormats, "accepted-formats", nil, "accepted MIME types (MD_ACCEPTED_FORMATS)")
	pf.IntVarP(&f.parallelism, "parallelism", "p", 0, "deposits built concurrently (MD_PARALLELISM)")
	pf.StringVar(&f.journalDir, "journal-dir", "", "run journal directory (MD_JOURNAL_DIR)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (MD_LOG_LEVEL)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: json, text (MD_LOG_FORMAT)")
}

// loadConfig загружает конфигурацию из окружения и накладывает флаги,
// явно заданные в командной строке.
func loadConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, f, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, f *rootFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("staging-dir") {
		cfg.StagingDir = f.stagingDir
	}
	if changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if changed("datamanager") {
		cfg.Datamanager = f.datamanager
	}
	if changed("depositor") {
		cfg.Depositor = f.depositor
	}
	if changed("permissions") {
		cfg.FilePermissions = f.permissions
	}
	if changed("group") {
		cfg.FileGroup = f.group
	}
	if changed("accepted-formats") {
		cfg.AcceptedFormats = f.acceptedFormats
	}
	if changed("parallelism") {
		cfg.Parallelism = f.parallelism
	}
	if changed("journal-dir") {
		cfg.JournalDir = f.journalDir
	}
	if changed("log-level") {
		level, err := config.ParseLogLevel(f.logLevel)
		if err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	if changed("log-format") {
		format := strings.ToLower(f.logFormat)
		if format != "json" && format != "text" {
			return fmt.Errorf("--log-format: недопустимое значение %q, допустимые: json, text", f.logFormat)
		}
		cfg.LogFormat = format
	}
	return nil
}

// configError оборачивает ошибку конфигурации в код завершения.
func configError(err error) error {
	return &exitError{code: batch.ExitConfig, err: fmt.Errorf("ошибка конфигурации: %w", err)}
}
