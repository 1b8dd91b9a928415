package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"afterimage/internal/ledger"
)

// Sink receives committed records in sequence order. Publish must either
// accept the whole batch or return an error; partial delivery is retried.
type Sink interface {
	Publish(ctx context.Context, records []ledger.Record) error
}

// KafkaSink produces one message per record keyed by sequence number, so a
// consumer can deduplicate re-deliveries.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(client *kgo.Client, topic string) *KafkaSink {
	return &KafkaSink{client: client, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, records []ledger.Record) error {
	batch := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec.Snapshot())
		if err != nil {
			return fmt.Errorf("encode record %d: %w", rec.SequenceNo(), err)
		}
		batch = append(batch, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(strconv.FormatUint(rec.SequenceNo(), 10)),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "content_hash", Value: []byte(rec.ContentHash().String())},
				{Key: "schema_version", Value: []byte(strconv.Itoa(int(rec.SchemaVersion())))},
			},
		})
	}
	if err := s.client.ProduceSync(ctx, batch...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", s.topic, err)
	}
	return nil
}

// JSONLSink writes one snapshot per line.
type JSONLSink struct {
	enc *json.Encoder
}

func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

func (s *JSONLSink) Publish(_ context.Context, records []ledger.Record) error {
	for _, rec := range records {
		if err := s.enc.Encode(rec.Snapshot()); err != nil {
			return fmt.Errorf("write record %d: %w", rec.SequenceNo(), err)
		}
	}
	return nil
}
