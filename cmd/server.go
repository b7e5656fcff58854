package cmd

import (
	"github.com/spf13/cobra"

	"labelpanel/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 labelpanel 服务器",
	Long:  `启动上传与提交流水线的 HTTP 服务，提供 /api 接口和进度 websocket`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
