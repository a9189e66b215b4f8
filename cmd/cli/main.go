package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/procurations/matching-engine/cmd/cli/commands"
	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/notifications"
	"github.com/procurations/matching-engine/pkg/postgres"
	"github.com/procurations/matching-engine/pkg/utils/logging"
)

var (
	env    string
	silent bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &commands.AppContext{Ctx: ctx}

	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Procurations matcher - pair voting proxy requests with volunteer proxies",
		Long: `A CLI tool for matching voting proxy requests with volunteer proxies,
recording their replies and delivering the resulting notifications.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(app)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Database != nil {
				app.Database.Close()
			}
			if app.Logger != nil {
				_ = app.Logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	_ = rootCmd.MarkPersistentFlagRequired("env")
	rootCmd.PersistentFlags().BoolVarP(&silent, "silent", "s", false, "Only log warnings and errors and skip the printed summary")

	rootCmd.AddCommand(commands.MigrateCmd(app))
	rootCmd.AddCommand(commands.MatchProxiesCmd(app))
	rootCmd.AddCommand(commands.SendNotificationsCmd(app))
	rootCmd.AddCommand(commands.ScheduleCmd(app))
	rootCmd.AddCommand(commands.AcceptRequestsCmd(app))
	rootCmd.AddCommand(commands.DeclineRequestsCmd(app))
	rootCmd.AddCommand(commands.ConfirmRequestsCmd(app))
	rootCmd.AddCommand(commands.CancelRequestsCmd(app))
	rootCmd.AddCommand(commands.SetProxyAvailabilityCmd(app))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, database and outbox
func initApp(app *commands.AppContext) error {
	consoleLevel := zapcore.InfoLevel
	if silent {
		consoleLevel = zapcore.WarnLevel
	}

	logger, err := logging.InitLogger(env, consoleLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Env = env
	app.Silent = silent

	app.Logger.Info("Starting application", zap.String("environment", env))

	app.Logger.Debug("Loading configuration")
	app.Cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app.Logger.Debug("Connecting to database")
	database, err := postgres.NewDB(app.Ctx, app.Cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.Database = database

	app.Outbox, err = notifications.NewOutbox(database, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create notification outbox: %w", err)
	}

	app.Logger.Debug("Application initialized")
	return nil
}
