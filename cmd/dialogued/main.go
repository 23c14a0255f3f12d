package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dialogued/internal/cleanup"
	"github.com/hrygo/dialogued/internal/profile"
	"github.com/hrygo/dialogued/internal/version"
	"github.com/hrygo/dialogued/server"
	"github.com/hrygo/dialogued/store"
	"github.com/hrygo/dialogued/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "dialogued",
	Short: `A stateful, multi-turn conversational dialogue orchestrator: intent classification, slot filling, ambiguity resolution, and confirmation over a single per-turn HTTP contract.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution, not when running as a
		// systemd service (which gets its environment from the unit file).
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:     viper.GetString("mode"),
			Addr:     viper.GetString("addr"),
			Port:     viper.GetInt("port"),
			UNIXSock: viper.GetString("unix-sock"),
			Data:     viper.GetString("data"),
			Driver:   viper.GetString("driver"),
			DSN:      viper.GetString("dsn"),
		}
		instanceProfile.FromEnv()
		instanceProfile.Version = version.GetCurrentVersion(instanceProfile.Mode)
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		driver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to open database driver", "error", err)
			os.Exit(1)
		}

		storeInstance := store.New(driver)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate store", "error", err)
			os.Exit(1)
		}
		defer storeInstance.Close()

		srv, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			slog.Error("failed to build server", "error", err)
			os.Exit(1)
		}

		sweeper := cleanup.New(
			storeInstance,
			time.Duration(instanceProfile.CleanupIntervalHours)*time.Hour,
			time.Duration(instanceProfile.RetentionDaysTurns)*24*time.Hour,
			time.Duration(instanceProfile.RetentionDaysAudit)*24*time.Hour,
		)
		sweeper.Start(ctx)
		defer sweeper.Stop()

		if err := srv.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
		printGreetings(instanceProfile)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, terminationSignals...)
		<-sig

		slog.Info("shutting down")
		srv.Shutdown(ctx)
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28082)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod", "dev", or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28082, "port of server")
	rootCmd.PersistentFlags().String("unix-sock", "", "path to the unix socket, overrides --addr and --port")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (DSN)")

	for _, b := range []struct{ key, flag string }{
		{"mode", "mode"}, {"addr", "addr"}, {"port", "port"},
		{"unix-sock", "unix-sock"}, {"data", "data"}, {"driver", "driver"}, {"dsn", "dsn"},
	} {
		if err := viper.BindPFlag(b.key, rootCmd.PersistentFlags().Lookup(b.flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("dialogued")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("dialogued %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s, driver: %s\n", p.Mode, p.Driver)
	if p.UNIXSock != "" {
		fmt.Printf("Listening on unix socket: %s\n", p.UNIXSock)
		return
	}
	addr := p.Addr
	if addr == "" {
		addr = "localhost"
	}
	fmt.Printf("Listening on http://%s:%d\n", addr, p.Port)
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
