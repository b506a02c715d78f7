package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/FabriceFx/gdexposure"
)

var Version = "current"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer cancel()
	gdexposure.Version = Version
	var cli gdexposure.CLI
	os.Exit(cli.Run(ctx))
}
