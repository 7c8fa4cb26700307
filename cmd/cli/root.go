package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	adminAddr string
	timeout   time.Duration
)

// rootCmd represents the base command when the `gwctl` binary is called without any subcommands.
// rootCmd 代表在没有任何子命令的情况下调用 `gwctl` 二进制文件时的基本命令。
var rootCmd = &cobra.Command{
	Use:   "gwctl",
	Short: "A CLI tool for operating the API gateway.",
	Long: `gwctl inspects and clears the gateway's cache tiers through the admin
endpoint, and signs calls to interfaces the way the client SDK does.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "http://127.0.0.1:8081", "gateway admin base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

// printResponse copies the body to out and fails on a non-2xx status.
func printResponse(out io.Writer, resp *http.Response) error {
	defer resp.Body.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
