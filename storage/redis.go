package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-client/domain"
)

const (
	defaultRedisPrefix = "taskcache:"

	fieldData      = "data"
	fieldFetchedAt = "fetched_at"
	fieldStale     = "stale"

	// generation counters live next to the entries: taskcache:gen:item:7
	genSegment = "gen:"

	scanBatch = 200
)

// invalidateScript bumps the generation and marks the entry stale only if it
// still exists, so a racing eviction never resurrects a half-populated hash.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], '1')
	return 1
end
return 0
`)

var generationScript = redis.NewScript(`
redis.call('SET', KEYS[1], '0', 'NX')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return tonumber(redis.call('GET', KEYS[1]))
`)

// putFetchedScript commits fresh when the generation is unchanged. Otherwise
// it writes a stale entry only where none exists.
var putFetchedScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
local stale = '0'
if current ~= tonumber(ARGV[3]) then
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	stale = '1'
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'fetched_at', ARGV[2], 'stale', stale)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
if stale == '0' then
	return 1
end
return 0
`)

// RedisStore shares cache entries between processes through Redis. Each entry
// is a hash whose TTL is the retention window, refreshed on every access.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store under prefix (default "taskcache:").
func NewRedisStore(client *redis.Client, prefix string, opts Options) *RedisStore {
	if client == nil {
		panic("storage.NewRedisStore: redis client is nil")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts.withDefaults()}
}

func (s *RedisStore) redisKey(k Key) string {
	return s.prefix + k.String()
}

func (s *RedisStore) genKey(k Key) string {
	return s.prefix + genSegment + k.String()
}

func (s *RedisStore) gcMillis() string {
	return strconv.FormatInt(s.opts.GCTime.Milliseconds(), 10)
}

func (s *RedisStore) logger(k Key) *log.Entry {
	return s.opts.Logger.WithField("cache_key", k.String())
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool) {
	rk := s.redisKey(key)
	fields, err := s.client.HGetAll(ctx, rk).Result()
	if err != nil {
		// Redis trouble reads as a miss; the caller falls back to the service.
		s.logger(key).WithError(err).Warn("cache read failed")
		return Entry{}, false
	}
	if len(fields) == 0 {
		return Entry{}, false
	}
	raw, ok := fields[fieldData]
	if !ok {
		return Entry{}, false
	}
	value, err := decodeValue(key, raw)
	if err != nil {
		s.logger(key).WithError(err).Warn("dropping undecodable cache entry")
		_ = s.client.Del(ctx, rk).Err()
		return Entry{}, false
	}
	fetchedMs, err := strconv.ParseInt(fields[fieldFetchedAt], 10, 64)
	if err != nil {
		_ = s.client.Del(ctx, rk).Err()
		return Entry{}, false
	}
	if err := s.client.PExpire(ctx, rk, s.opts.GCTime).Err(); err != nil {
		s.logger(key).WithError(err).Debug("cache touch failed")
	}

	now := s.opts.Now()
	fetchedAt := time.UnixMilli(fetchedMs)
	invalidated := fields[fieldStale] == "1"
	return Entry{
		Key:         key,
		Value:       value,
		FetchedAt:   fetchedAt,
		LastAccess:  now,
		Invalidated: invalidated,
		State:       s.opts.stateOf(fetchedAt, invalidated, now),
	}, true
}

// Put replaces the entry in a single MULTI/EXEC so readers never observe a
// partially written hash.
func (s *RedisStore) Put(ctx context.Context, key Key, value Value) error {
	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	rk := s.redisKey(key)
	fetched := strconv.FormatInt(s.opts.Now().UnixMilli(), 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rk)
		pipe.HSet(ctx, rk, fieldData, data, fieldFetchedAt, fetched, fieldStale, "0")
		pipe.PExpire(ctx, rk, s.opts.GCTime)
		return nil
	})
	return err
}

// PutFetched runs as one script so the generation check and the write cannot
// interleave with an invalidation.
func (s *RedisStore) PutFetched(ctx context.Context, key Key, value Value, gen uint64) (bool, error) {
	data, err := encodeValue(key, value)
	if err != nil {
		return false, err
	}
	fetched := strconv.FormatInt(s.opts.Now().UnixMilli(), 10)
	n, err := putFetchedScript.Run(ctx, s.client,
		[]string{s.redisKey(key), s.genKey(key)},
		data, fetched, strconv.FormatUint(gen, 10), s.gcMillis(),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Generation creates the counter when missing so InvalidateMatching finds keys
// that are being fetched but have no entry yet.
func (s *RedisStore) Generation(ctx context.Context, key Key) (uint64, error) {
	n, err := generationScript.Run(ctx, s.client, []string{s.genKey(key)}, s.gcMillis()).Int64()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *RedisStore) Invalidate(ctx context.Context, key Key) error {
	return invalidateScript.Run(ctx, s.client,
		[]string{s.redisKey(key), s.genKey(key)},
		fieldStale, s.gcMillis(),
	).Err()
}

func (s *RedisStore) InvalidateMatching(ctx context.Context, match func(Key) bool) error {
	seen := make(map[Key]struct{})
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		for _, rk := range keys {
			raw := strings.TrimPrefix(strings.TrimPrefix(rk, s.prefix), genSegment)
			k, err := ParseKey(raw)
			if err != nil || !match(k) {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if err := s.Invalidate(ctx, k); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// List entries are stored as a JSON array and item entries as a single task
// object; the key kind says which.
func encodeValue(key Key, value Value) (string, error) {
	if key.IsList() {
		return sonic.MarshalString(ListValue(value.Tasks).Tasks)
	}
	return sonic.MarshalString(value.Task)
}

func decodeValue(key Key, raw string) (Value, error) {
	if key.IsList() {
		var tasks []domain.Task
		if err := sonic.UnmarshalString(raw, &tasks); err != nil {
			return Value{}, err
		}
		return ListValue(tasks), nil
	}
	var task domain.Task
	if err := sonic.UnmarshalString(raw, &task); err != nil {
		return Value{}, err
	}
	return ItemValue(task), nil
}

// Sweep is a no-op: Redis expires unused entries through their TTL.
func (s *RedisStore) Sweep(context.Context) int { return 0 }

// Close leaves the shared client open; its owner closes it.
func (s *RedisStore) Close() error { return nil }
