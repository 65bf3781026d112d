package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanntrong/qaserve-go/internal/logging"
)

// NewRetrainCmd constructs the `qaserve retrain` command, which triggers a
// manual fine-tune cycle and waits for it to finish.
func NewRetrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Trigger a fine-tune cycle and wait for it to complete",
		Long: `Trigger a fine-tune cycle and wait for it to complete.

A manual trigger skips the time-interval gate but still honors the minimum
corpus size and growth-threshold gates. When the gates reject the trigger
the command reports that and exits successfully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, closeAll, err := buildApp(ctx, log)
			if err != nil {
				return err
			}
			defer closeAll()

			queueCtx, cancelQueue := context.WithCancel(ctx)
			a.queue.Start(queueCtx)
			defer a.queue.Close()
			defer cancelQueue()

			triggered, err := a.engine.TriggerRetrain(ctx, true)
			if err != nil {
				return fmt.Errorf("retrain: %w", err)
			}
			if !triggered {
				fmt.Println("retrain not triggered: gates not met")
				return nil
			}

			fmt.Println("retrain triggered, waiting for fine-tune and reindex to finish")
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for !a.queue.Idle() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			fmt.Println("retrain complete")
			return nil
		},
	}

	return cmd
}
