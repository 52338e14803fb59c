package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cci-trader/internal/model"
)

func testSignal(id string) *model.MarketSignal {
	return &model.MarketSignal{
		ID: id, ConfigID: "cfg", Symbol: "BTCUSDT", Timeframe: "15m",
		Direction: model.Long, Price: 100, CCIValue: -85,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSignalPublisher_Publish(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	sig := testSignal("s1")
	payload := string(sig.JSON())
	mock.ExpectPublish("pub:signal:BTCUSDT:15m", payload).SetVal(1)
	mock.ExpectSet("latest:signal:BTCUSDT:15m", payload, 24*time.Hour).SetVal("OK")

	p := NewSignalPublisher(rdb, NewCircuitBreaker(3, time.Minute), 10)
	require.NoError(t, p.Publish(context.Background(), sig))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalPublisher_BuffersWhileOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	first := testSignal("s1")
	mock.ExpectPublish("pub:signal:BTCUSDT:15m", string(first.JSON())).SetErr(errors.New("down"))

	cb := NewCircuitBreaker(1, time.Hour)
	p := NewSignalPublisher(rdb, cb, 2)
	buffered := 0
	p.OnBuffer = func() { buffered++ }

	assert.Error(t, p.Publish(context.Background(), first))
	require.Equal(t, StateOpen, cb.CurrentState())

	for _, id := range []string{"s2", "s3", "s4"} {
		require.NoError(t, p.Publish(context.Background(), testSignal(id)))
	}
	assert.Equal(t, 2, p.Buffered(), "oldest dropped past the cap")
	assert.Equal(t, 3, buffered)

	// Flush replays what is left, in order.
	for _, id := range []string{"s3", "s4"} {
		payload := string(testSignal(id).JSON())
		mock.ExpectPublish("pub:signal:BTCUSDT:15m", payload).SetVal(1)
		mock.ExpectSet("latest:signal:BTCUSDT:15m", payload, 24*time.Hour).SetVal("OK")
	}
	assert.Equal(t, 2, p.Flush(context.Background()))
	assert.Zero(t, p.Buffered())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalPublisher_FlushKeepsRemainderOnError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	cb := NewCircuitBreaker(1, time.Hour)
	p := NewSignalPublisher(rdb, cb, 10)
	p.bufferSignal(testSignal("s1"))
	p.bufferSignal(testSignal("s2"))

	mock.ExpectPublish("pub:signal:BTCUSDT:15m", string(testSignal("s1").JSON())).SetErr(errors.New("down"))
	assert.Equal(t, 0, p.Flush(context.Background()))
	assert.Equal(t, 2, p.Buffered())
}
