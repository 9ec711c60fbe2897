package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	relaynats "github.com/wehubfusion/Relay/internal/nats"
	"github.com/wehubfusion/Relay/pkg/config"
	"github.com/wehubfusion/Relay/pkg/event"
	"github.com/wehubfusion/Relay/pkg/message"
)

type publishFlags struct {
	subject       string
	data          string
	correlationID string
	oneWay        bool
	nonBlocking   bool
}

func newPublishCmd(flags *rootFlags) *cobra.Command {
	pf := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single event to the event subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			msg, err := pf.envelope(cfg)
			if err != nil {
				return err
			}

			conn, err := cfg.ConnectNATS(cmd.Context(), zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = relaynats.Close(conn) }()

			if err := conn.PublishMsg(msg); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published to %s\n", msg.Subject)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&pf.subject, "subject", "", "Subject to publish to (default: nats.subject from config)")
	f.StringVar(&pf.data, "data", "", "Event payload (required)")
	f.StringVar(&pf.correlationID, "correlation-id", "", "Correlation ID of the event")
	f.BoolVar(&pf.oneWay, "one-way", false, "Send as a one-way event")
	f.BoolVar(&pf.nonBlocking, "non-blocking", false, "Allow non-blocking processing")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// envelope builds the NATS message carrying the event.
func (pf *publishFlags) envelope(cfg *config.Config) (*nats.Msg, error) {
	env, err := message.NewMessage(pf.data)
	if err != nil {
		return nil, err
	}
	env.WithCorrelationID(pf.correlationID)
	env.NonBlocking = pf.nonBlocking
	if pf.oneWay {
		env.ExchangePattern = event.OneWay.String()
	}
	data, err := env.ToBytes()
	if err != nil {
		return nil, err
	}

	subject := pf.subject
	if subject == "" {
		subject = cfg.NATS.Subject
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	return msg, nil
}
