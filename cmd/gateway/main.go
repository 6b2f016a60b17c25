package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arclight-labs/gatewaylb/internal/config"
	"github.com/arclight-labs/gatewaylb/internal/gateway"
	"github.com/arclight-labs/gatewaylb/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (omit to use built-in defaults)")
	devLog := flag.Bool("dev-log", false, "Use human-readable development logging instead of production JSON")
	flag.Parse()

	var cfg *config.Config
	if *configFile == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	newLogger := logging.New
	if *devLog {
		newLogger = logging.NewDevelopment
	}
	sugar, err := newLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer sugar.Sync()

	gw, err := gateway.New(cfg, sugar)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		sugar.Infow("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if err := gw.Start(ctx, addr); err != nil {
		sugar.Fatalw("gateway exited with error", "error", err)
	}
}
