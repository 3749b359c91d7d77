package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// schedules name IANA zones; containers often ship without zoneinfo
	_ "time/tzdata"

	"github.com/vykuang/mh-flight-logs/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
