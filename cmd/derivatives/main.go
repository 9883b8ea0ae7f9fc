package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-content-derivatives/internal/config"
	"github.com/tendant/simple-content-derivatives/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "derivatives",
		Short:         "Generate thumbnails and label records from bucket notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("env-file", ".env", "Path to the environment variables file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(ServeCmd(), DispatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the env file, the environment and the logging flags
func loadConfig(cmd *cobra.Command) (config.Config, logger.Logger, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return config.Config{}, nil, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = logger.Level(level)
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.JSON = cfg.LogJSON
	return cfg, logger.New(logCfg), nil
}
