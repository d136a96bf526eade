package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/feiramob/chatcore/internal/config"
	"github.com/feiramob/chatcore/internal/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to config file")
	listenFlag := flag.String("listen", "", "local API bind address (overrides config)")
	flag.Parse()

	// Optional .env next to the working directory, for CHATCORE_TOKEN.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv(config.TokenEnv) == "" {
		fmt.Fprintf(os.Stderr, "error: %s is not set\n", config.TokenEnv)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg, ListenAddr: *listenFlag}),
	)

	app.Run()
}
