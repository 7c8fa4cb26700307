package main

import (
	"github.com/turtacn/apigateway/cmd/cli"
)

// main is the entry point for the gwctl command-line tool.
// main 是 gwctl 命令行工具的入口点。
func main() {
	cli.Execute()
}
