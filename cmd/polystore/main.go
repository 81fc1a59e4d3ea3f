package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "polystore",
		Short: "Operator tool for the polystore persistence layer",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfg := viper.GetString("config"); cfg != "" {
				viper.SetConfigFile(cfg)
				if err := viper.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "failed to read config file %s", cfg)
				}
			}
			level := slog.LevelInfo
			if viper.GetBool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
		SilenceUsage: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables, convert legacy layouts and sweep stale drafts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Init(cmd.Context()); err != nil {
				return errors.Wrap(err, "failed to initialize store")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store ready on %s\n", s.GetDriver().Name())
			return nil
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Delete draft entities left without an active version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.SweepStaleDrafts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d stale drafts\n", n)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", profile.DriverSQLite)
	viper.SetDefault("data", ".")
	viper.SetDefault("retry-max-attempts", 5)
	viper.SetDefault("retry-initial-interval", 100*time.Millisecond)
	viper.SetDefault("retry-max-interval", 5*time.Second)
	viper.SetDefault("index-poll-interval", time.Second)
	viper.SetDefault("index-timeout", 5*time.Minute)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.Bool("verbose", false, "log at debug level")
	flags.String("mode", "dev", `mode of the store, can be "prod" or "dev" or "demo"`)
	flags.String("driver", profile.DriverSQLite, "backend driver: postgres, sqlite, cockroach, qdrant or redis")
	flags.String("dsn", "", "backend connection string")
	flags.String("data", ".", "data directory for the default sqlite file")
	flags.String("namespace", "", "prefix for every table the store creates")
	flags.Int("max-batch-rows", 0, "rows per batch chunk, 0 for the backend ceiling")
	flags.Int("retry-max-attempts", 5, "attempts per backend round trip")
	flags.Duration("retry-initial-interval", 100*time.Millisecond, "first retry delay")
	flags.Duration("retry-max-interval", 5*time.Second, "retry delay ceiling")
	flags.Duration("index-poll-interval", time.Second, "poll interval for asynchronous index builds")
	flags.Duration("index-timeout", 5*time.Minute, "deadline for asynchronous index builds")
	flags.Float64("requests-per-second", 0, "backend round trip limit, 0 for unthrottled")
	flags.Duration("stale-draft-grace", 0, "minimum age of drafts reclaimed by the sweep")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("polystore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(migrateCmd, sweepCmd, newIndexCmd(), newExplainCmd())
}

// loadProfile builds a validated profile from flags, environment and config file.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:                 viper.GetString("mode"),
		Driver:               viper.GetString("driver"),
		DSN:                  viper.GetString("dsn"),
		Data:                 viper.GetString("data"),
		Namespace:            viper.GetString("namespace"),
		MaxBatchRows:         viper.GetInt("max-batch-rows"),
		RetryMaxAttempts:     viper.GetInt("retry-max-attempts"),
		RetryInitialInterval: viper.GetDuration("retry-initial-interval"),
		RetryMaxInterval:     viper.GetDuration("retry-max-interval"),
		IndexPollInterval:    viper.GetDuration("index-poll-interval"),
		IndexTimeout:         viper.GetDuration("index-timeout"),
		RequestsPerSecond:    viper.GetFloat64("requests-per-second"),
		StaleDraftGrace:      viper.GetDuration("stale-draft-grace"),
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return p, nil
}

func openDriver() (store.Driver, *profile.Profile, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, nil, err
	}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("opened backend", slog.String("driver", p.Driver), slog.String("namespace", p.Namespace))
	return driver, p, nil
}

func openStore() (*store.Store, error) {
	driver, p, err := openDriver()
	if err != nil {
		return nil, err
	}
	return store.New(driver, p), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
