package cmd

import (
	"soundrise/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动上传处理服务器",
	Long:  `启动 Soundrise 的 HTTP 服务器，提供分片上传、音频处理与专辑管理 API`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
