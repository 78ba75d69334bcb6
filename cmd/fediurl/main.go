package main

import (
	"context"
	"os"

	"github.com/hitoshi/fediurl/internal/app"
)

// version はビルド時に -ldflags "-X main.version=..." で設定される。
var version = "dev"

func main() {
	app.SetVersion(version)

	if err := app.Run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
