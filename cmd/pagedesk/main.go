// Command pagedesk はFacebookページ管理ダッシュボードのバックエンドを起動する。
//
// サブコマンド: serve（デフォルト）, worker, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/pagedesk/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pagedesk: %v\n", err)
		os.Exit(1)
	}
}
