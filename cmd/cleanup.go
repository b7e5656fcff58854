package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"labelpanel/logger"
	"labelpanel/server"
)

var olderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "回滚过期的暂存会话",
	Long:  `删除超过 --older-than 未更新的暂存会话：临时文件和暂存记录都会被清除。默认取 STAGING_MAX_AGE。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge := olderThan
		if maxAge <= 0 {
			maxAge = cfg.StagingMaxAge
		}

		app, err := server.NewApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		cleaned, err := app.Commits.CleanupStale(cmd.Context(), maxAge)
		logger.Info("stale sessions cleanup finished",
			logger.Int("sessions", cleaned),
			logger.Duration("olderThan", maxAge))
		fmt.Printf("已清理 %d 个过期会话\n", cleaned)
		return err
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 0, "会话空闲多久后视为过期 (例如 48h)")
}
