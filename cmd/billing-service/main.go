package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fjod/go_pay/internal/config"
	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/internal/pricing"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/fjod/go_pay/internal/taxrules"
	"github.com/fjod/go_pay/pkg/logger"
	"github.com/spf13/cobra"
)

const serviceName = "billing-service"

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "billing-service",
		Short:         "Cart, order and payment billing service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		log := logger.New(serviceName, cfg.LogLevel, os.Stdout)
		slog.SetDefault(log)
		return cfg, log, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(relayCmd(load))
	rootCmd.AddCommand(invoicesCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, *slog.Logger, error)

func credentials(cfg *config.Config) *repository.Credentials {
	return &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
}

// openStore connects the configured store. Postgres schemas are migrated on open.
func openStore(cfg *config.Config, log *slog.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), nil
	}

	creds := credentials(cfg)
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		_ = repo.Close()
		return nil, err
	}
	log.Info("database migrations completed")
	return repo, nil
}

func openTaxRules(cfg *config.Config) (*taxrules.Repository, error) {
	if cfg.TaxDBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.TaxDBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create tax db dir: %w", err)
		}
	}

	rules, err := taxrules.NewRepository(cfg.TaxDBPath)
	if err != nil {
		return nil, err
	}
	if err := rules.RunMigrations(cfg.TaxMigrationsPath); err != nil {
		_ = rules.Close()
		return nil, err
	}
	return rules, nil
}

func newCalculator(cfg *config.Config, rules pricing.RuleLookup) *pricing.Calculator {
	return pricing.NewCalculator(rules, pricing.Config{
		DefaultRegion: cfg.TaxDefaultRegion,
		Fallback: domain.TaxRate{
			Region:  cfg.TaxDefaultRegion,
			Name:    cfg.TaxFallbackName,
			Percent: cfg.TaxFallbackRate,
		},
	})
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply order store and tax rule migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}

			rules, err := openTaxRules(cfg)
			if err != nil {
				return fmt.Errorf("tax rules: %w", err)
			}
			defer rules.Close()

			list, err := rules.List(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("tax rules ready", "regions", len(list))

			if cfg.StoreDriver == config.DriverMemory {
				return nil
			}
			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}

func relayCmd(load loader) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.DriverMemory {
				return fmt.Errorf("relay needs a shared store, store_driver is %q", cfg.StoreDriver)
			}

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			relay := newRelay(cfg, store, log)
			defer relay.Close()

			if once {
				n := relay.PublishPending(cmd.Context())
				log.Info("outbox batch published", "count", n)
				return nil
			}

			ctx, stop := signalContext()
			defer stop()
			log.Info("outbox relay started", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
			relay.Run(ctx)
			log.Info("outbox relay stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "publish one batch and exit")
	return cmd
}

func invoicesCmd(load loader) *cobra.Command {
	var limit int

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Generate invoices for paid orders that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.DriverMemory {
				return fmt.Errorf("invoice retry needs a shared store, store_driver is %q", cfg.StoreDriver)
			}

			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			trigger, err := newInvoiceTrigger(cfg, store, log, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			n, err := trigger.RetryMissing(ctx, limit)
			if err != nil {
				return err
			}
			log.Info("invoice retry finished", "generated", n)
			return nil
		},
	}
	retry.Flags().IntVarP(&limit, "limit", "n", 100, "maximum orders to process")

	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance",
	}
	cmd.AddCommand(retry)
	return cmd
}
