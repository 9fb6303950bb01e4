package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"
)

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// GroupID enables consumer-group offsets. Without it the source reads partition 0 and
	// offsets are not committed.
	GroupID string
	// ValuePath is an optional gjson path into JSON message values. Without it each message value
	// must be a plain decimal number.
	ValuePath string
	// MaxBatch bounds the number of messages read per Collect (default 1000).
	MaxBatch int
	// MaxWait bounds how long a Collect waits for messages (default 1s).
	MaxWait time.Duration
}

// KafkaSource consumes readings from a Kafka topic, one reading per message.
// Messages that cannot be decoded are logged and skipped.
type KafkaSource struct {
	reader    messageReader
	valuePath string
	maxBatch  int
	maxWait   time.Duration
	commit    bool
	logger    *slog.Logger
}

// NewKafkaSource creates a KafkaSource backed by a kafka-go reader.
func NewKafkaSource(cfg KafkaConfig, logger *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka source: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka source: topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0,
	})

	return newKafkaSource(reader, cfg, logger), nil
}

func newKafkaSource(reader messageReader, cfg KafkaConfig, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1000
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	return &KafkaSource{
		reader:    reader,
		valuePath: cfg.ValuePath,
		maxBatch:  cfg.MaxBatch,
		maxWait:   cfg.MaxWait,
		commit:    cfg.GroupID != "",
		logger:    logger,
	}
}

func (k *KafkaSource) Name() string { return "kafka" }

// Collect implements Source. It drains up to MaxBatch messages, returning early when no message
// arrives before MaxWait elapses.
func (k *KafkaSource) Collect(ctx context.Context) ([]Sample, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, k.maxWait)
	defer cancel()

	var (
		samples []Sample
		fetched []kafka.Message
	)
	for len(fetched) < k.maxBatch {
		msg, err := k.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		fetched = append(fetched, msg)

		v, err := k.decode(msg.Value)
		if err != nil {
			k.logger.Warn("skipping undecodable message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}

		ts := msg.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		samples = append(samples, Sample{TS: ts.UTC(), Value: v})
	}

	if k.commit && len(fetched) > 0 {
		if err := k.reader.CommitMessages(ctx, fetched...); err != nil {
			return nil, fmt.Errorf("commit messages: %w", err)
		}
	}

	sortSamples(samples)
	return samples, nil
}

func (k *KafkaSource) decode(value []byte) (float64, error) {
	if k.valuePath == "" {
		return strconv.ParseFloat(strings.TrimSpace(string(value)), 64)
	}
	if !gjson.ValidBytes(value) {
		return 0, errors.New("invalid JSON")
	}
	r := gjson.GetBytes(value, k.valuePath)
	if !r.Exists() {
		return 0, fmt.Errorf("value path %q not found", k.valuePath)
	}
	return numericValue(r)
}

// Close closes the underlying reader.
func (k *KafkaSource) Close() error {
	return k.reader.Close()
}
