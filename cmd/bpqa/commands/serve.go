package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/bpqa-go/internal/logging"
	"github.com/54b3r/bpqa-go/internal/provider"
	"github.com/54b3r/bpqa-go/internal/server"
	"github.com/54b3r/bpqa-go/internal/tracing"
)

// NewServeCmd constructs the `bpqa serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bpqa HTTP API",
		Long: `Start the bpqa HTTP API.

The indexes are built in the background at startup; /api/ready reports 200
once they are loaded. Queries that arrive earlier wait for the build.

Examples:
  bpqa serve
  bpqa serve --port 9090
  MODEL_PROVIDER=openai bpqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			log.Info("serve starting", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			flush := tracing.Install(log)
			defer flush()

			a, err := buildApp(ctx, log, appOptions{withHistory: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close(log)

			go func() {
				if err := a.pipeline.EnsureReady(ctx); err != nil {
					log.Warn("serve: initial index build failed, will retry on first query", slog.Any("error", err))
					return
				}
				log.Info("serve: indexes ready")
			}()

			var pingers []server.Pinger
			pingers = append(pingers, server.NewPipelinePinger(a.pipeline))
			if a.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(a.qdrant.Client()))
			}
			if a.embedBackend == string(provider.BackendOllama) ||
				provider.ConfigFromEnv().Backend == provider.BackendOllama {
				pingers = append(pingers, server.NewOllamaPinger(getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")))
			}

			var history server.HistoryReader
			if a.history != nil {
				history = a.history
			}

			srv, err := server.New(a.pipeline, history, &server.Config{
				Host:         host,
				Port:         port,
				QueryTimeout: a.settings.GenerationTimeout * 2,
				Logger:       log,
				Pingers:      pingers,
				APIKey:       os.Getenv("BPQA_API_KEY"),
				ImagesDir:    a.settings.ImagesDir,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("BPQA_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("BPQA_PORT", 8080), "TCP port to listen on")

	return cmd
}
