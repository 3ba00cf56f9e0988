package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/stockroom/internal/cli"
	_ "github.com/JonMunkholm/stockroom/internal/core/tables" // Register products, customers and suppliers
)

func main() {
	// Ctrl-C cancels the running import; records already written stay written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(cli.Options{}).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
