// 运维 CLI：迁移、导出、旧数据导入与批量生成列表；与服务端共用配置与依赖装配
package main

import (
	"context"
	"fmt"
	"os"

	"overture-lists/internal/app"
	"overture-lists/internal/config"
	"overture-lists/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg config.Config
	a   *app.App
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "lists",
	Short:         "Operate the boundary list and CRM mapping store",
	Long:          `Operator commands for the local list/mapping database backed by Overture division boundaries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if p, _ := cmd.Flags().GetString("db"); p != "" {
			cfg.DBPath = p
		}
		logger.Setup()
	},
}

// open：按需装配完整依赖；只需要库文件的命令不调用
func open(ctx context.Context) (*app.App, error) {
	if a != nil {
		return a, nil
	}
	var err error
	a, err = app.New(ctx, cfg)
	return a, err
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "database file (overrides DB_PATH)")
	addCommands()
	err := rootCmd.ExecuteContext(context.Background())
	if a != nil {
		a.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
