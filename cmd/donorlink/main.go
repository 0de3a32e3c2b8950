package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/donorlink/internal/app"
)

func main() {
	// ログは標準エラーに出し、標準出力はexportのCSVに使う
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
