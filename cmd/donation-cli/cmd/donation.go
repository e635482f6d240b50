package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"donation-core/internal/handler/request"
)

var donateCmd = &cobra.Command{
	Use:   "donate",
	Short: "发起一笔捐赠",
	Long:  `创建 PENDING 状态的捐赠，之后等待银行入账通知匹配。`,
	Run: func(cmd *cobra.Command, args []string) {
		req := request.CreateDonationRequest{}
		req.StoryID, _ = cmd.Flags().GetString("story")
		req.DonorID, _ = cmd.Flags().GetString("donor")
		req.NgoID, _ = cmd.Flags().GetString("ngo")
		req.Amount, _ = cmd.Flags().GetInt64("amount")
		req.Message, _ = cmd.Flags().GetString("message")

		data, err := newClient().Do(context.Background(), http.MethodPost, "/api/v1/donations", req)
		exitOnErr("创建捐赠", err)

		fmt.Println("✅ 捐赠已创建:")
		printData(data)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [donation-id]",
	Short: "查询捐赠",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := newClient().Do(context.Background(), http.MethodGet, "/api/v1/donations/"+url.PathEscape(args[0]), nil)
		exitOnErr("查询捐赠", err)
		printData(data)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [donation-id]",
	Short: "取消捐赠",
	Long:  `只有尚未结算的捐赠可以取消，已结算或已取消的返回 409。`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := newClient().Do(context.Background(), http.MethodPost, "/api/v1/donations/"+url.PathEscape(args[0])+"/cancel", nil)
		exitOnErr("取消捐赠", err)

		fmt.Println("✅ 捐赠已取消:")
		printData(data)
	},
}

func init() {
	rootCmd.AddCommand(donateCmd, getCmd, cancelCmd)

	donateCmd.Flags().String("story", "", "故事 ID")
	donateCmd.Flags().String("donor", "", "捐赠人 ID")
	donateCmd.Flags().String("ngo", "", "NGO ID")
	donateCmd.Flags().Int64("amount", 0, "金额 (最小货币单位)")
	donateCmd.Flags().String("message", "", "留言")

	donateCmd.MarkFlagRequired("story")
	donateCmd.MarkFlagRequired("donor")
	donateCmd.MarkFlagRequired("ngo")
	donateCmd.MarkFlagRequired("amount")
}
