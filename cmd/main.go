package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vitals-service/internal/config"
	"vitals-service/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vitals",
	Short: "Web vitals telemetry pipeline",
	Long: `Collects Core Web Vitals, aggregates them on a backend and streams
live updates to dashboards.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("api-url", "", "backend base URL (collect, watch)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))

	rootCmd.AddCommand(serveCmd, collectCmd, watchCmd)
}

func initConfig() {
	config.BindEnv(viper.GetViper())
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			checkError(fmt.Errorf("read config %s: %w", cfgFile, err))
		}
	}
}

// newLogger writes to stderr so stdout stays free for command output.
func newLogger(cfg *config.Config, service string) *slog.Logger {
	return logger.NewWithWriter(os.Stderr, service, logger.ParseLevel(cfg.LogLevel))
}

func checkError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	checkError(rootCmd.Execute())
}
