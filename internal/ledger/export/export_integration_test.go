//go:build integration

package export_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/export"
	"afterimage/internal/ledger/store/memory"
	"afterimage/internal/platform/config"
	"afterimage/internal/platform/kafka"
	"afterimage/internal/scope"
	"afterimage/pkg/testutil/containers"
)

type KafkaExportSuite struct {
	suite.Suite
	ctx    context.Context
	kafka  *containers.RedpandaContainer
	redis  *containers.RedisContainer
	client *kafka.Client
	topic  string
}

func TestKafkaExportSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaExportSuite))
}

func (s *KafkaExportSuite) SetupSuite() {
	s.ctx = context.Background()
	mgr := containers.GetManager()
	s.kafka = mgr.GetRedpanda(s.T())
	s.redis = mgr.GetRedis(s.T())
	s.topic = "afterimage.ledger.test"

	client, err := kafka.New(s.ctx, config.KafkaConfig{
		Brokers:     s.kafka.Brokers,
		Topic:       s.topic,
		Partitions:  1,
		Replication: 1,
	}, nil)
	s.Require().NoError(err)
	s.client = client
	s.Require().NoError(client.EnsureTopic(s.ctx, s.topic, 1, 1), "ensuring twice is a no-op")
}

func (s *KafkaExportSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaExportSuite) TestExportResumesFromPersistedCursor() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog, err := gate.DefaultCatalog()
	s.Require().NoError(err)
	l, err := ledger.Open(s.ctx, memory.NewInMemoryStore(), gate.NewEngine(catalog), ledger.WithLogger(logger))
	s.Require().NoError(err)
	for i := 0; i < 4; i++ {
		_, err := l.Append(s.ctx, ledger.AppendRequest{
			Scope:       scope.ActorScope{Actor: "operator-1", Tier: scope.TierK6},
			PolicyClass: scope.PolicyRoutine,
			Constants:   gate.Constants{M: float64(i * 5), Psi: 2, R: 1, F0: 1},
			Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
			Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
		})
		s.Require().NoError(err)
	}

	cursor := export.NewRedisCursor(s.redis.Client, "integration")
	s.Require().NoError(cursor.Store(s.ctx, 1))

	exp, err := export.New(l, export.NewKafkaSink(s.client.Client, s.topic), cursor, export.WithLogger(logger))
	s.Require().NoError(err)
	n, err := exp.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	seq, err := cursor.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(4), seq)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.kafka.Brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	var keys []string
	for len(keys) < 3 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			keys = append(keys, string(r.Key))
			var snap ledger.Snapshot
			s.Require().NoError(json.Unmarshal(r.Value, &snap))
			s.Equal(string(r.Key), strconv.FormatUint(snap.SequenceNo, 10))
		})
	}
	s.Equal([]string{"2", "3", "4"}, keys)
}
