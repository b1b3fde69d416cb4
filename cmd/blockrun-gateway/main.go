// blockrun-gateway: local routing proxy for chat-completion clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/blockrun/blockrun-gateway/internal/balance"
	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/gateway"
	"github.com/blockrun/blockrun-gateway/internal/monitoring"
	"github.com/blockrun/blockrun-gateway/internal/provider"
)

func main() {
	var (
		configPath string
		debugFlag  bool
		portFlag   int
	)

	args := os.Args[1:]
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
			configPath = args[i+1]
			i += 2
		case "-d", "--debug":
			debugFlag = true
			i++
		case "-p", "--port":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --port requires a value")
				os.Exit(1)
			}
			if _, err := fmt.Sscanf(args[i+1], "%d", &portFlag); err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid port %q\n", args[i+1])
				os.Exit(1)
			}
			i += 2
		case "--version":
			fmt.Println(gateway.Identity + " " + gateway.Version)
			return
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown flag %q\n", args[i])
			printHelp()
			os.Exit(1)
		}
	}

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	setupLogging(debugFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if portFlag > 0 {
		cfg.Proxy.Port = portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.Builtin()
	registry, err := provider.Build(ctx, cfg.Providers, cat)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build providers")
	}
	if len(registry.All()) == 0 {
		log.Warn().Msg("no providers registered; every chat request will fail")
	}

	deps := gateway.Deps{
		Catalog:  cat,
		Registry: registry,
	}

	if cfg.Usage.Enabled {
		var sinks []monitoring.Sink
		if cfg.Usage.Dir != "" {
			tracker, err := monitoring.NewFileTracker(cfg.Usage.Dir)
			if err != nil {
				log.Error().Err(err).Msg("usage file sink disabled")
			} else {
				sinks = append(sinks, tracker)
			}
		}
		if cfg.Usage.DBPath != "" {
			store, err := monitoring.NewSQLStore(cfg.Usage.DBPath)
			if err != nil {
				log.Error().Err(err).Msg("usage sqlite sink disabled")
			} else {
				sinks = append(sinks, store)
				deps.Stats = store
			}
		}
		deps.LiveFeed = monitoring.NewLiveFeed()
		sinks = append(sinks, deps.LiveFeed)
		deps.Usage = monitoring.NewEmitter(sinks...)
	}

	if cfg.Balance.Enabled {
		deps.Balance = balance.NewCachedPolicy(cfg.Balance.InitialUSD, cfg.Balance.MinUSD)
	}

	gw, err := gateway.New(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}

	server := gw.Server()
	go func() {
		log.Info().Int("port", cfg.Proxy.Port).Str("version", gateway.Version).
			Int("models", cat.Len()).Int("providers", len(registry.All())).
			Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	gw.Shutdown(shutdownCtx)
}

// setupLogging configures zerolog: pretty console on a TTY, JSON otherwise.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
}

func printHelp() {
	fmt.Print(`blockrun-gateway - local LLM routing proxy

Usage:
  blockrun-gateway [flags]

Flags:
  -c, --config <path>   Config file (YAML)
  -p, --port <port>     Listen port (overrides config)
  -d, --debug           Debug logging
      --version         Print version
  -h, --help            This help
`)
}
