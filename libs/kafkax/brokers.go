package kafkax

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter publishes to the topic named on each message, hashing keys
// to partitions. Writes wait for all in-sync replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// ReadyCheck passes when any broker accepts a connection.
func ReadyCheck(brokers []string) func(context.Context) error {
	dialer := &kafka.Dialer{Timeout: 2 * time.Second}
	return func(ctx context.Context) error {
		err := errors.New("kafka brokers not configured")
		for _, addr := range brokers {
			var conn *kafka.Conn
			if conn, err = dialer.DialContext(ctx, "tcp", addr); err == nil {
				return conn.Close()
			}
		}
		return err
	}
}
