package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Must-be-Ash/x402-firecrawl/internal/config"
	"github.com/Must-be-Ash/x402-firecrawl/pkg/operator"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP server",
	Long: `Start the operator server.

Routes:
  POST /v1/content         run a content query
  GET  /v1/breaker         circuit breaker state
  POST /v1/breaker/reset   close the circuit
  GET  /metrics            Prometheus metrics

Examples:
  paygate serve
  paygate serve --addr :9000 --config paygate.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, envFiles()...)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := operator.NewServer(a.service, a.engine.Breaker(),
		operator.WithLogger(a.log),
		operator.WithMetricsHandler(a.metrics.Handler()),
	)
	return server.Run(ctx, cfg.Server.Addr)
}
