package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "donation-cli",
	Short: "捐赠引擎运维命令行工具",
	Long: `调用 donation-server 的 HTTP 接口。
可以发起捐赠、查询 / 取消捐赠、模拟银行入账通知以及查看未匹配入账。`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// 全局标志，也可以用 DONATION_SERVER / DONATION_WEBHOOK_SECRET 环境变量
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "donation-server 地址")
	rootCmd.PersistentFlags().String("webhook-secret", "", "入账通知签名密钥 (与服务端 monitor.webhook_secret 一致)")

	viper.SetEnvPrefix("donation")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("webhook-secret", rootCmd.PersistentFlags().Lookup("webhook-secret"))
}

func newClient() *Client {
	return NewClient(viper.GetString("server"), viper.GetString("webhook-secret"))
}

// exitOnErr 打印错误并退出
func exitOnErr(action string, err error) {
	if err != nil {
		fmt.Printf("❌ %s失败: %v\n", action, err)
		os.Exit(1)
	}
}
