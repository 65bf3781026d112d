package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/logging"
	"github.com/vanntrong/qaserve-go/internal/sched"
	"github.com/vanntrong/qaserve-go/internal/server"
)

// NewServeCmd constructs the `qaserve serve` command, which starts the HTTP
// API, the background job worker and the periodic retrain sweep.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the qaserve HTTP API server",
		Long: `Start the qaserve HTTP server.

The server exposes ingestion (/api/ingest, /api/qa), semantic search
(/api/search), retrain control (/api/retrain, /api/retrain/auto/*), and
operational endpoints (/api/health, /api/ready, /metrics). A single
background worker runs retrain and reindex jobs; a periodic sweep
re-evaluates the retrain trigger for slowly growing corpora.

Examples:
  qaserve serve
  qaserve serve --port 9090
  QASERVE_API_KEY=secret qaserve serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, closeAll, err := buildApp(ctx, log)
			if err != nil {
				return err
			}
			defer closeAll()

			// The queue and sweeper exit on context cancellation. Give them
			// their own cancel so a server error unblocks the defers below
			// even while the signal context is still live.
			runCtx, cancelRun := context.WithCancel(ctx)
			a.queue.Start(runCtx)
			defer a.queue.Close()

			sweeper := sched.New(
				a.cfg.Retrain.SweepInterval.Std(),
				func(sweepCtx context.Context) (bool, error) {
					return a.engine.TriggerRetrain(sweepCtx, false)
				},
				a.cfg.Retrain.AutoEnabled,
				log,
			)
			sweeper.Start(runCtx)
			defer sweeper.Wait()
			defer cancelRun()

			log.Info("serve starting",
				slog.String("db", a.cfg.Store.DBPath),
				slog.String("model_endpoint", a.cfg.Model.Endpoint),
				slog.Bool("sweep_enabled", a.cfg.Retrain.AutoEnabled),
			)

			if host == "" {
				host = a.cfg.Server.Host
			}
			if port == 0 {
				port = a.cfg.Server.Port
			}

			srv, err := server.New(a.engine, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Sweeper: sweeper,
				Pingers: []server.Pinger{
					server.NewStorePinger(a.store),
					a.model,
				},
				APIKey: a.cfg.Server.APIKey,
			})
			if err != nil {
				return err
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
