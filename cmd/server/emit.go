package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainsyncstore/chainsync-notify/internal/config"
	"github.com/chainsyncstore/chainsync-notify/internal/notifications"
)

// newEmitCmd publishes sample events onto the Kafka ingest topics, the way a
// POS backend would.
func newEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish a notification event to the ingest bus (requires KAFKA_BROKERS)",
	}

	var (
		tenant    string
		sku       string
		onHand    int
		threshold int
	)
	lowStock := &cobra.Command{
		Use:   "low-stock",
		Short: "Emit a low stock alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProducer(cmd.Context(), func(ctx context.Context, p *notifications.Producer) error {
				return p.LowStock(ctx, tenant, sku, onHand, threshold)
			})
		},
	}
	lowStock.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	lowStock.Flags().StringVar(&sku, "sku", "", "Product SKU")
	lowStock.Flags().IntVar(&onHand, "on-hand", 0, "Units on hand")
	lowStock.Flags().IntVar(&threshold, "threshold", 5, "Reorder threshold")

	var subject, reference, reason string
	payment := &cobra.Command{
		Use:   "payment-failed",
		Short: "Emit a failed payment alert for a cashier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProducer(cmd.Context(), func(ctx context.Context, p *notifications.Producer) error {
				return p.PaymentFailed(ctx, tenant, subject, reference, reason)
			})
		},
	}
	payment.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	payment.Flags().StringVar(&subject, "subject", "", "Cashier user id")
	payment.Flags().StringVar(&reference, "reference", "", "Payment reference")
	payment.Flags().StringVar(&reason, "reason", "declined", "Failure reason")

	cmd.AddCommand(lowStock, payment)
	return cmd
}

func withProducer(ctx context.Context, fn func(context.Context, *notifications.Producer) error) error {
	cfg := config.Load()
	if cfg.KafkaBrokers == "" {
		return errors.New("KAFKA_BROKERS is not set; the in-memory broker cannot reach a running server")
	}
	broker, err := notifications.NewBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close() //nolint:errcheck // best-effort flush on exit

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := fn(ctx, notifications.NewProducer(broker)); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	return nil
}
