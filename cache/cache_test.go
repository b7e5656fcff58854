package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestChunkSequence_InOrder(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	seq := NewChunkSequence(client)

	for i := 0; i < 3; i++ {
		expected, ok, err := seq.Claim(ctx, "upload_abc_song.wav.tmp", i)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, expected)
	}

	got, err := mr.Get("upload:seq:upload_abc_song.wav.tmp")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	require.NoError(t, seq.Clear(ctx, "upload_abc_song.wav.tmp"))
	assert.False(t, mr.Exists("upload:seq:upload_abc_song.wav.tmp"))
}

func TestChunkSequence_RejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	seq := NewChunkSequence(client)

	_, ok, err := seq.Claim(ctx, "k", 0)
	require.NoError(t, err)
	require.True(t, ok)

	expected, ok, err := seq.Claim(ctx, "k", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, expected)

	// a rejected claim does not move the expectation
	_, ok, err = seq.Claim(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChunkSequence_UnknownTransferExpectsZero(t *testing.T) {
	_, client := newTestRedis(t)
	seq := NewChunkSequence(client)

	expected, ok, err := seq.Claim(context.Background(), "never-started", 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, expected)
}

func TestCommitLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	lock := NewCommitLock(client)

	unlock, ok, err := lock.Lock(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:commit:abc"))

	_, ok, err = lock.Lock(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	assert.False(t, mr.Exists("lock:commit:abc"))

	unlock2, ok, err := lock.Lock(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}

func TestCommitLock_ExtendedWhileHeld(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	lock := &CommitLock{client: client, ttl: 3 * time.Second, refresh: 20 * time.Millisecond}

	unlock, ok, err := lock.Lock(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	// a batch outliving the original TTL keeps the lock
	mr.FastForward(2 * time.Second)
	require.Eventually(t, func() bool {
		return mr.TTL("lock:commit:abc") > 2*time.Second
	}, time.Second, 10*time.Millisecond)
	mr.FastForward(2 * time.Second)
	require.Eventually(t, func() bool {
		return mr.TTL("lock:commit:abc") > 2*time.Second
	}, time.Second, 10*time.Millisecond)
	assert.True(t, mr.Exists("lock:commit:abc"))

	_, ok, err = lock.Lock(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:commit:abc"))
}

func TestProbe(t *testing.T) {
	_, client := newTestRedis(t)
	require.NoError(t, Probe(context.Background(), client))
	assert.Error(t, Probe(context.Background(), nil))
}
