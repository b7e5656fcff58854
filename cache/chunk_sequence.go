package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	chunkSeqPrefix = "upload:seq:"
	// transfers idle longer than this start over from chunk 0
	chunkSeqTTL = 24 * time.Hour
)

// claimChunkScript: index 0 restarts the transfer, any other index must match
// the stored expectation. Returns {ok, expected}.
var claimChunkScript = redis.NewScript(`
local idx = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
if idx == 0 then
  redis.call('SET', KEYS[1], 1, 'EX', ttl)
  return {1, 0}
end
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= idx then
  return {0, cur}
end
redis.call('SET', KEYS[1], idx + 1, 'EX', ttl)
return {1, idx}
`)

// ChunkSequence is the Redis backed chunk sequencer (upload:seq:<file>).
type ChunkSequence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewChunkSequence(client *redis.Client) *ChunkSequence {
	return &ChunkSequence{client: client, ttl: chunkSeqTTL}
}

func chunkSeqKey(key string) string {
	return chunkSeqPrefix + key
}

// Claim implements upload.Sequencer.
func (s *ChunkSequence) Claim(ctx context.Context, key string, index int) (int, bool, error) {
	res, err := claimChunkScript.Run(ctx, s.client, []string{chunkSeqKey(key)}, index, int(s.ttl.Seconds())).Result()
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, Error.New("unexpected claim reply %v", res)
	}
	okFlag, _ := vals[0].(int64)
	expected, _ := vals[1].(int64)
	return int(expected), okFlag == 1, nil
}

// Clear implements upload.Sequencer.
func (s *ChunkSequence) Clear(ctx context.Context, key string) error {
	return Error.Wrap(s.client.Del(ctx, chunkSeqKey(key)).Err())
}
