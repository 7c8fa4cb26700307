package cli

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/apigateway/internal/infrastructure/cache"
)

// cacheCmd groups the cache administration commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the gateway caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-entity cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminRequest(cmd, http.MethodGet, "/admin/cache/stats")
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear every cache tier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminRequest(cmd, http.MethodDelete, "/admin/cache")
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict <user|interface|user_interface> <key>",
	Short: "Evict one entry by its natural key",
	Long: `Evict one entry from both tiers. The key is the access key for user,
fullUrl:METHOD for interface, and userId:interfaceId for user_interface.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, err := cache.ParseEntityType(args[0])
		if err != nil {
			return err
		}
		return adminRequest(cmd, http.MethodDelete, "/admin/cache/"+string(entity)+"/"+url.PathEscape(args[1]))
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheEvictCmd)
	rootCmd.AddCommand(cacheCmd)
}

func adminRequest(cmd *cobra.Command, method, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(adminAddr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), resp)
}
