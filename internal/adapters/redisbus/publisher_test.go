package redisbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polywatch/internal/adapters/redisbus"
	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type mockPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, published{channel: channel, payload: payload})
	return m.err
}

func (m *mockPublisher) snapshot() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.calls...)
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func batchEvent() coordination.Event {
	return coordination.Event{
		Type: coordination.EventBatchAnalysisComplete,
		At:   at,
		Payload: domain.BatchResult{
			ID: "batch-1",
			Groups: []domain.Group{{
				ID:                "g1",
				Members:           []string{"0xa", "0xb"},
				CoordinationScore: 88.5,
				RiskLevel:         domain.RiskHigh,
				Flags:             domain.NewFlagSet(domain.FlagOppositeDirections),
			}},
			HighestRisk: domain.RiskHigh,
			Incomplete:  true,
		},
	}
}

func TestEncode_Batch(t *testing.T) {
	msg := redisbus.Encode(batchEvent())

	assert.Equal(t, "batch-1", msg.ResultID)
	assert.True(t, msg.Coordinated)
	assert.True(t, msg.Incomplete)
	require.Len(t, msg.Groups, 1)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "batch_analysis_complete", decoded["type"])
	assert.Equal(t, "HIGH", decoded["highest_risk"])
	group := decoded["groups"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{"OPPOSITE_DIRECTIONS"}, group["flags"])
	assert.Equal(t, 88.5, group["score"])
}

func TestEncode_IngestAndAnalysis(t *testing.T) {
	ingest := redisbus.Encode(coordination.Event{
		Type:    coordination.EventTradesAdded,
		At:      at,
		Wallets: []string{"0xa"},
		Payload: tradestore.IngestReport{Accepted: 3, Rejected: make([]tradestore.Rejection, 2)},
	})
	assert.Equal(t, 3, ingest.Accepted)
	assert.Equal(t, 2, ingest.Rejected)
	assert.Nil(t, ingest.Groups)

	analysis := redisbus.Encode(coordination.Event{
		Type:    coordination.EventAnalysisComplete,
		At:      at,
		Payload: domain.AnalysisResult{ID: "a-1", Wallet: "0xa"},
	})
	assert.Equal(t, "a-1", analysis.ResultID)
	assert.False(t, analysis.Coordinated)
	assert.Equal(t, domain.RiskNone, analysis.HighestRisk)
}

func TestPublisher_DeliversOnChannelPerType(t *testing.T) {
	mock := &mockPublisher{}
	p := redisbus.NewPublisher(mock, "pw", 8)
	p.Start(context.Background())

	p.OnEvent(batchEvent())
	p.OnEvent(coordination.Event{Type: coordination.EventTradesAdded, At: at, Payload: tradestore.IngestReport{Accepted: 1}})
	p.Close()

	calls := mock.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "pw:batch_analysis_complete", calls[0].channel)
	assert.Equal(t, "pw:trades_added", calls[1].channel)
	assert.Zero(t, p.Failed())
}

func TestPublisher_CountsFailures(t *testing.T) {
	mock := &mockPublisher{err: errors.New("down")}
	p := redisbus.NewPublisher(mock, "", 4)
	p.Start(context.Background())

	p.OnEvent(batchEvent())
	p.Close()
	assert.Equal(t, int64(1), p.Failed())
	assert.Equal(t, "polywatch:batch_analysis_complete", mock.snapshot()[0].channel)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := redisbus.NewPublisher(&mockPublisher{}, "pw", 1)
	// sin Start: la cola no se consume
	p.OnEvent(batchEvent())
	p.OnEvent(batchEvent())
	assert.Equal(t, int64(1), p.Dropped())

	p.Close()
	p.OnEvent(batchEvent())
	assert.Equal(t, int64(2), p.Dropped())
}

func TestBus_PublishWrapsErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	bus := redisbus.NewFromClient(rdb, "")
	defer bus.Close()

	err := bus.Publish(context.Background(), "pw:test", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: publish pw:test")
}

func TestNew_FailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := redisbus.New(ctx, redisbus.Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}
