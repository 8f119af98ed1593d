// Preflight coaching service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/preflightlabs/preflight/internal/api"
	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/domain/usage"
	"github.com/preflightlabs/preflight/internal/infra/config"
	"github.com/preflightlabs/preflight/internal/infra/eventbus"
	"github.com/preflightlabs/preflight/internal/infra/llm"
	"github.com/preflightlabs/preflight/internal/infra/sqlite"
	"github.com/preflightlabs/preflight/internal/server"
	"github.com/preflightlabs/preflight/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("preflight", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	if *showHelp {
		printHelp(out)
		return 0
	}

	if err := serve(out); err != nil {
		fmt.Fprintf(out, "preflight: %v\n", err) //nolint:errcheck
		return 1
	}
	return 0
}

// serve loads configuration, wires the services, and runs the HTTP server
// until SIGINT or SIGTERM.
func serve(out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sqlite.NewDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close() //nolint:errcheck
		return err
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		db.Close() //nolint:errcheck
		return err
	}
	if len(providers) == 0 {
		log.Println("no LLM provider API key configured; coaching rounds will fail until one is set")
	}

	bus := eventbus.New()
	registry := coaching.NewRegistry(db)
	coachingService := coaching.NewService(db, registry, providers, bus)
	recorder := usage.NewRecorder(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go recorder.Start(ctx, bus)

	router := api.NewRouter(api.Deps{
		DB:                 db,
		Coaching:           coachingService,
		Registry:           registry,
		Usage:              recorder,
		AuthMode:           cfg.AuthMode,
		JWTSecret:          []byte(cfg.JWTSecret),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Addr = cfg.Addr
	srv := server.NewServer(db, router, serverCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildProviders constructs a retry-wrapped client for every provider with a
// configured API key.
func buildProviders(cfg config.Config) (map[llm.ProviderName]llm.Provider, error) {
	opts := llm.Options{
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIModel,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		AnthropicModel:   cfg.AnthropicModel,
		Retry:            llm.DefaultRetryPolicy(),
	}
	if cfg.RetryMaxAttempts > 0 {
		opts.Retry.MaxAttempts = cfg.RetryMaxAttempts
	}

	providers := make(map[llm.ProviderName]llm.Provider)
	if cfg.OpenAIAPIKey != "" {
		p, err := llm.New(llm.ProviderOpenAI, opts)
		if err != nil {
			return nil, err
		}
		providers[llm.ProviderOpenAI] = p
	}
	if cfg.AnthropicAPIKey != "" {
		p, err := llm.New(llm.ProviderAnthropic, opts)
		if err != nil {
			return nil, err
		}
		providers[llm.ProviderAnthropic] = p
	}
	return providers, nil
}

func printHelp(out io.Writer) {
	helpText := `Preflight - AI readiness coaching service

Usage:
  preflight [options]

Options:
  --version    Show version information
  --help       Show this help message

Running with no options starts the HTTP server. Configuration comes from
environment variables (PREFLIGHT_ADDR, PREFLIGHT_DB_PATH, OPENAI_API_KEY,
ANTHROPIC_API_KEY, AUTH_MODE, ...) or a YAML file named by PREFLIGHT_CONFIG.

Examples:
  preflight --version
  PREFLIGHT_ADDR=:9090 OPENAI_API_KEY=sk-... preflight`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
