package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labelpanel/config"
	"labelpanel/logger"
	"labelpanel/server"
)

// cfg 在任何子命令运行前加载
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "labelpanel",
	Short: "labelpanel uploads masters and commits them to the distribution catalog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		return logger.InitLogger(logger.Config{
			Level:       logger.LogLevel(cfg.LogLevel),
			OutputPath:  cfg.LogFile,
			MaxSize:     cfg.LogMaxSizeMB,
			MaxBackups:  cfg.LogMaxBackups,
			MaxAge:      cfg.LogMaxAgeDays,
			Compress:    cfg.LogCompress,
			Development: !cfg.IsProduction(),
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(cfg)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
