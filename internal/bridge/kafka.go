package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/plantwatch/alertcore/internal/alerting"
)

// Consumer reads anomaly detections from a Kafka topic and feeds them to the
// Bridge. Offsets commit only after the bridge handled the message, giving
// at-least-once semantics; duplicate detections at worst create alerts the
// grouping engine absorbs.
type Consumer struct {
	reader *kafka.Reader
	bridge *Bridge
	log    *slog.Logger
}

// NewConsumer builds a consumer for the given broker list (comma separated),
// topic, and consumer group.
func NewConsumer(brokers, topic, groupID string, b *Bridge, log *slog.Logger) (*Consumer, error) {
	if brokers == "" || topic == "" || groupID == "" {
		return nil, errors.New("kafka brokers, topic and group id are required")
	}
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokerList,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	log.Info("anomaly bridge consumer configured", "brokers", brokerList, "topic", topic, "group_id", groupID)
	return &Consumer{reader: reader, bridge: b, log: log}, nil
}

// Run consumes until ctx is cancelled. Malformed messages are committed and
// skipped; bridge failures leave the offset uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.log.Error("kafka fetch failed", "err", err)
			continue
		}

		var det Detection
		if err := json.Unmarshal(msg.Value, &det); err != nil {
			c.log.Error("malformed detection message skipped",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Error("kafka commit failed", "err", err)
			}
			continue
		}

		if _, err := c.bridge.Handle(ctx, det); err != nil {
			c.log.Error("bridge handling failed", "device_id", det.DeviceID, "metric", det.Metric, "err", err)
			// Validation failures are permanent; commit so the message is not
			// redelivered. Anything else stays uncommitted for retry.
			if !alerting.IsKind(err, alerting.KindValidation) {
				continue
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("kafka commit failed", "err", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
