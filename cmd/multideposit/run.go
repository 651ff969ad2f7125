package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/rkruithof/easy-split-multi-deposit/internal/batch"
	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/directory"
	"github.com/rkruithof/easy-split-multi-deposit/internal/directory/keycloak"
	"github.com/rkruithof/easy-split-multi-deposit/internal/directory/ldapdir"
	"github.com/rkruithof/easy-split-multi-deposit/internal/identity"
	"github.com/rkruithof/easy-split-multi-deposit/internal/parser"
	"github.com/rkruithof/easy-split-multi-deposit/internal/report"
	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/journal"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <multi-deposit-dir>",
		Short: "Validate the batch and build every valid deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, f, args[0], false)
		},
	}
}

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <multi-deposit-dir>",
		Short: "Report every problem in the batch without building deposits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, f, args[0], true)
		},
	}
}

func newRecoverCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Clean up deposits left behind by an interrupted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return configError(err)
			}
			logger := config.SetupLogger(cfg)

			j, err := journal.New(cfg.EffectiveJournalDir(), logger)
			if err != nil {
				return &exitError{code: batch.ExitFatal, err: err}
			}
			recovered, err := j.Recover()
			if err != nil {
				return &exitError{code: batch.ExitFatal, err: fmt.Errorf("восстановление журнала: %w", err)}
			}
			if _, err := j.CleanCompleted(); err != nil {
				logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d interrupted deposit(s) cleaned up\n", recovered)
			return nil
		},
	}
}

// newReportCmd печатает прогон, сохранённый в базе отчётов.
func newReportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show a run stored in the report database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return configError(err)
			}
			if cfg.ReportDSN == "" {
				return configError(errors.New("MD_REPORT_DSN не задан"))
			}
			logger := config.SetupLogger(cfg)

			pool, err := report.Connect(cmd.Context(), cfg.ReportDSN, logger)
			if err != nil {
				return &exitError{code: batch.ExitFatal, err: err}
			}
			defer pool.Close()

			summary, err := report.NewRepository(pool).GetRun(cmd.Context(), args[0])
			if errors.Is(err, report.ErrNotFound) {
				return &exitError{code: batch.ExitInput, err: fmt.Errorf("%s: %w", args[0], err)}
			}
			if err != nil {
				return &exitError{code: batch.ExitFatal, err: err}
			}
			summary.Print(cmd.OutOrStdout())
			return nil
		},
	}
}

// runBatch выполняет прогон или проверку пакета и печатает отчёт.
func runBatch(cmd *cobra.Command, f *rootFlags, batchDir string, dryRun bool) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return configError(err)
	}
	settings, err := cfg.Settings(batchDir)
	if err != nil {
		return configError(err)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("multideposit запускается",
		slog.String("version", config.Version),
		slog.String("multi_deposit_dir", settings.MultiDepositDir()),
		slog.String("directory", cfg.Directory),
		slog.Int("parallelism", cfg.Parallelism),
		slog.Bool("dry_run", dryRun),
	)

	ctx := cmd.Context()

	// --- Инициализация компонентов ---

	// 1. Справочник пользователей
	users, err := newDirectory(cfg, logger)
	if err != nil {
		return configError(err)
	}
	resolver := identity.NewResolver(users, cfg.IdentityCacheSize, cfg.IdentityCacheTTL, logger)

	// 2. Журнал прогонов
	j, err := journal.New(cfg.EffectiveJournalDir(), logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала", slog.String("error", err.Error()))
		return &exitError{code: batch.ExitFatal, err: err}
	}

	// 3. Хранилище отчётов (опционально)
	opts := batch.Options{
		Settings:       settings,
		Detector:       parser.ContentDetector,
		Resolver:       resolver,
		Journal:        j,
		Parallelism:    cfg.Parallelism,
		PushgatewayURL: cfg.PushgatewayURL,
		Logger:         logger,
	}
	if cfg.ReportDSN != "" {
		closeStore, err := openReportStore(ctx, cfg.ReportDSN, &opts, logger)
		if err != nil {
			return &exitError{code: batch.ExitFatal, err: err}
		}
		defer closeStore()
	}

	// 4. Прогон
	runner := batch.NewRunner(opts)
	var rep *batch.Report
	if dryRun {
		rep, err = runner.Validate(ctx)
	} else {
		rep, err = runner.Run(ctx)
	}
	if rep == nil {
		return &exitError{code: batch.ExitFatal, err: err}
	}
	// Фатальная ошибка прогона отражена в отчёте
	rep.Print(cmd.OutOrStdout())

	if code := rep.ExitCode(); code != batch.ExitOK {
		return &exitError{code: code}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &exitError{code: batch.ExitFatal, err: errors.New("прогон прерван")}
	}
	return nil
}

// newDirectory создаёт справочник пользователей по MD_DIRECTORY.
func newDirectory(cfg *config.Config, logger *slog.Logger) (directory.Directory, error) {
	switch cfg.Directory {
	case config.DirectoryLDAP:
		return ldapdir.New(ldapdir.Config{
			URL:          cfg.LDAPURL,
			BindDN:       cfg.LDAPBindDN,
			BindPassword: cfg.LDAPBindPassword,
			BaseDN:       cfg.LDAPBaseDN,
			Timeout:      cfg.HTTPTimeout,
		}, logger), nil
	case config.DirectoryKeycloak:
		client := keycloak.New(
			cfg.KeycloakURL,
			cfg.KeycloakRealm,
			cfg.KeycloakClientID,
			cfg.KeycloakClientSecret,
			&http.Client{Timeout: cfg.HTTPTimeout},
			logger,
		)
		return keycloak.NewDirectory(client, logger), nil
	case config.DirectoryFile:
		static, err := directory.LoadFile(cfg.DirectoryFile)
		if err != nil {
			return nil, err
		}
		return static, nil
	default:
		return nil, fmt.Errorf("MD_DIRECTORY: недопустимое значение %q", cfg.Directory)
	}
}

// openReportStore применяет миграции, подключается к PostgreSQL и
// устанавливает хранилище отчётов в opts. Возвращает функцию закрытия пула.
func openReportStore(ctx context.Context, dsn string, opts *batch.Options, logger *slog.Logger) (func(), error) {
	if err := report.Migrate(dsn, logger); err != nil {
		logger.Error("Ошибка миграции базы отчётов", slog.String("error", err.Error()))
		return nil, err
	}
	pool, err := report.Connect(ctx, dsn, logger)
	if err != nil {
		logger.Error("Ошибка подключения к базе отчётов", slog.String("error", err.Error()))
		return nil, err
	}
	opts.Store = report.NewRepository(pool)
	return pool.Close, nil
}
