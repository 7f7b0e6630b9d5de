package relay

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmanotify/pharmanotify/pkg/directory"
)

// captureConn records delivered notifications.
type captureConn struct {
	mu        sync.Mutex
	messages  []string
	kicked    []string
	notifyErr error
}

func (c *captureConn) Notify(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureConn) Kick(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kicked = append(c.kicked, reason)
	return nil
}

func (c *captureConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func startRelay(t *testing.T, dir *directory.Directory) (*redis.Client, context.CancelFunc, chan error) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	r := New(rdb, "pharma:notifications", dir, slog.New(slog.DiscardHandler))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait until the subscription is live before publishing anything.
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), "pharma:notifications").Result()
		return err == nil && n["pharma:notifications"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	return rdb, cancel, done
}

func TestRelay_DeliversToLiveSession(t *testing.T) {
	dir := directory.New()
	conn := &captureConn{}
	dir.Register(4, "central", conn)

	rdb, cancel, done := startRelay(t, dir)
	defer cancel()

	err := rdb.Publish(context.Background(), "pharma:notifications",
		`{"pharmacy_id":4,"message":"Aspirina expires soon"}`).Err()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(conn.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Aspirina expires soon", conn.received()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestRelay_AcceptsAliasFieldNames(t *testing.T) {
	dir := directory.New()
	conn := &captureConn{}
	dir.Register(9, "norte", conn)

	rdb, cancel, done := startRelay(t, dir)
	defer cancel()

	err := rdb.Publish(context.Background(), "pharma:notifications",
		`{"farmacia_id":9,"mensaje":"stock vencido"}`).Err()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(conn.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "stock vencido", conn.received()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestRelay_SurvivesMalformedAndOfflineEvents(t *testing.T) {
	dir := directory.New()
	conn := &captureConn{}
	dir.Register(1, "sur", conn)

	rdb, cancel, done := startRelay(t, dir)
	defer cancel()

	ctx := context.Background()
	// Garbage, an event with no pharmacy id, one with no message, an event
	// for an offline pharmacy, then a valid one. Only the last lands.
	require.NoError(t, rdb.Publish(ctx, "pharma:notifications", `{broken`).Err())
	require.NoError(t, rdb.Publish(ctx, "pharma:notifications", `{"message":"orphan"}`).Err())
	require.NoError(t, rdb.Publish(ctx, "pharma:notifications", `{"pharmacy_id":1}`).Err())
	require.NoError(t, rdb.Publish(ctx, "pharma:notifications", `{"pharmacy_id":99,"message":"offline"}`).Err())
	require.NoError(t, rdb.Publish(ctx, "pharma:notifications", `{"pharmacy_id":1,"message":"still here"}`).Err())

	require.Eventually(t, func() bool {
		return len(conn.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "still here", conn.received()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestRelay_StopsOnCancel(t *testing.T) {
	_, cancel, done := startRelay(t, directory.New())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}
