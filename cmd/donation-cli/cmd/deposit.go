package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"donation-core/internal/handler/request"
)

// simulateDepositCmd 本地联调时代替银行推送入账
var simulateDepositCmd = &cobra.Command{
	Use:   "simulate-deposit",
	Short: "模拟银行入账通知",
	Long: `向 /api/v1/deposits/webhook 推送一条入账通知。
未指定 --txn 时随机生成流水号；重复推送同一流水号会返回 duplicate。`,
	Run: func(cmd *cobra.Command, args []string) {
		amountStr, _ := cmd.Flags().GetString("amount")
		amount, err := decimal.NewFromString(amountStr)
		exitOnErr("解析金额", err)

		req := request.DepositWebhookRequest{Amount: &amount}
		req.NgoID, _ = cmd.Flags().GetString("ngo")
		req.AccountNumber, _ = cmd.Flags().GetString("account")
		req.TransactionID, _ = cmd.Flags().GetString("txn")
		req.DepositorName, _ = cmd.Flags().GetString("depositor")
		if req.TransactionID == "" {
			req.TransactionID = "sim-" + uuid.NewString()
		}
		now := time.Now().UTC()
		req.DepositDateTime = &now

		data, err := newClient().Do(context.Background(), http.MethodPost, "/api/v1/deposits/webhook", req)
		exitOnErr("推送入账", err)

		fmt.Printf("✅ 入账已推送 (流水号 %s):\n", req.TransactionID)
		printData(data)
	},
}

var unmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "查看未匹配的入账",
	Run: func(cmd *cobra.Command, args []string) {
		path := "/api/v1/deposits/unmatched"
		if ngo, _ := cmd.Flags().GetString("ngo"); ngo != "" {
			path += "?ngoId=" + url.QueryEscape(ngo)
		}
		data, err := newClient().Do(context.Background(), http.MethodGet, path, nil)
		exitOnErr("查询未匹配入账", err)
		printData(data)
	},
}

func init() {
	rootCmd.AddCommand(simulateDepositCmd, unmatchedCmd)

	simulateDepositCmd.Flags().String("ngo", "", "NGO ID")
	simulateDepositCmd.Flags().String("account", "", "虚拟账户号")
	simulateDepositCmd.Flags().String("amount", "0", "金额 (最小货币单位)")
	simulateDepositCmd.Flags().String("txn", "", "银行流水号")
	simulateDepositCmd.Flags().String("depositor", "", "汇款人")

	simulateDepositCmd.MarkFlagRequired("ngo")
	simulateDepositCmd.MarkFlagRequired("account")
	simulateDepositCmd.MarkFlagRequired("amount")

	unmatchedCmd.Flags().String("ngo", "", "只看某个 NGO")
}
