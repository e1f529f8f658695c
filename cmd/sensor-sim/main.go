package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pv/raspberry-listener-go/internal/live"
	"github.com/pv/raspberry-listener-go/internal/logging"
)

// sensor-sim: имитатор сокета датчиков Raspberry Pi для отладки живого опроса.
func main() {
	var (
		addr   string
		period time.Duration
		idle   time.Duration
		debug  bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:9000", "listen address")
	flag.DurationVar(&period, "period", time.Hour, "period of simulated sensor values")
	flag.DurationVar(&idle, "idle-timeout", time.Minute, "close silent connections after this timeout")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	logging.SetDebug(debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	srv := &live.Server{
		Values:      live.Simulator{Period: period}.Value,
		IdleTimeout: idle,
	}
	logging.Info().Str("addr", ln.Addr().String()).Dur("period", period).Msg("sensor simulator listening")
	if err := srv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("sensor simulator stopped")
		os.Exit(1)
	}
}
