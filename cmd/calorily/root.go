package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sakif/calorily/internal/config"
	"github.com/sakif/calorily/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
	closeFn func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "calorily",
		Short:         "Photo-first meal log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeFn != nil {
				return a.closeFn()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("env-file", ".env", "dotenv file loaded before reading CALORILY_* variables")
	flags.String("db", "", "database path (overrides db_path)")
	flags.String("images", "", "image directory (overrides image_dir)")
	flags.String("log-level", "", "debug, info, warn or error (overrides log.level)")

	a.v.BindPFlag("db_path", flags.Lookup("db"))
	a.v.BindPFlag("image_dir", flags.Lookup("images"))
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "data", Title: "Meals:"},
		&cobra.Group{ID: "admin", Title: "Maintenance:"},
	)
	root.AddCommand(
		newServeCmd(a),
		newMealsCmd(a),
		newSweepCmd(a),
		newTokenCmd(a),
	)
	return root
}

// load reads .env, the config file and env vars, then builds the logger.
// One-shot commands log warnings and errors to stderr; serve uses the
// configured output.
func (a *app) load(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(a.v, configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cmd.Name() != "serve" {
		a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
		return nil
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeFn = closer.Close
	return nil
}
