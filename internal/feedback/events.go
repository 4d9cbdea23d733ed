package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Events publishes learning signals to interested consumers.
type Events interface {
	// RetrainDue signals that enough corrections have accumulated to make
	// retraining the specialized tier worthwhile.
	RetrainDue(ctx context.Context, corrections int64) error
}

// NoopEvents discards all signals. Used when no broker is configured.
type NoopEvents struct{}

func (NoopEvents) RetrainDue(_ context.Context, _ int64) error { return nil }

// retrainSubject is where retrain signals are published.
const retrainSubject = "ffagent.feedback.retrain_due"

type retrainMessage struct {
	Corrections int64     `json:"corrections"`
	At          time.Time `json:"at"`
}

// NATSEvents publishes signals to a NATS broker.
type NATSEvents struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSEvents wraps an existing NATS connection. The connection's
// lifecycle belongs to the caller.
func NewNATSEvents(conn *nats.Conn, logger *zap.Logger) *NATSEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSEvents{conn: conn, logger: logger}
}

// RetrainDue publishes a retrain signal.
func (n *NATSEvents) RetrainDue(_ context.Context, corrections int64) error {
	payload, err := json.Marshal(retrainMessage{
		Corrections: corrections,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding retrain message: %w", err)
	}
	if err := n.conn.Publish(retrainSubject, payload); err != nil {
		return fmt.Errorf("publishing retrain signal: %w", err)
	}
	n.logger.Debug("retrain signal published",
		zap.String("subject", retrainSubject),
		zap.Int64("corrections", corrections))
	return nil
}

var (
	_ Events = (*NATSEvents)(nil)
	_ Events = NoopEvents{}
)
