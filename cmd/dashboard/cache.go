package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/usecase"
)

var (
	clearUser      string
	clearTimeframe string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain cached reports",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached reports and the rate-limit ledger of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStores(conf.Server)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store := usecase.NewCacheStore(st.reports, conf.Cache)
		ledger := usecase.NewLedger(st.limits, conf.Cache)

		if clearTimeframe == "" {
			if err := store.ClearAll(ctx, clearUser); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared all cached reports of %s\n", clearUser)
			return nil
		}

		if err := store.Clear(ctx, clearUser, clearTimeframe); err != nil {
			return err
		}
		if err := ledger.Clear(ctx, clearUser, clearTimeframe); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cached reports of %s\n", clearTimeframe, clearUser)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().StringVar(&clearUser, "user", domain.DefaultPrincipal, "user whose cache to clear")
	cacheClearCmd.Flags().StringVar(&clearTimeframe, "timeframe", "", "timeframe to clear (all timeframes when empty)")
	cacheCmd.AddCommand(cacheClearCmd)
}
