package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for session hashes.
	KeyPrefix = "relay:session:"

	// IndexKey is the sorted set of session ids scored by creation time in
	// unix milliseconds. Sessions marked expired are re-scored to 0 so the
	// next sweep picks them up.
	IndexKey = "relay:sessions"

	// keyGrace keeps a hash around after its TTL so the evictor can still
	// report what it removed.
	keyGrace = time.Minute
)

// RedisStore keeps sessions in Redis so several relay instances can share
// them. Status changes run as Lua scripts, which keeps every operation on a
// single session atomic.
type RedisStore struct {
	client     *redis.Client
	opts       storeOptions
	create     *redis.Script
	transition *redis.Script
	setStatus  *redis.Script
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store on top of an existing client. Close closes
// the client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{
		client:     client,
		opts:       applyOptions(opts),
		create:     redis.NewScript(createLua),
		transition: redis.NewScript(transitionLua),
		setStatus:  redis.NewScript(setStatusLua),
	}
}

// Create stores a new pending session, retrying when the drawn id is taken.
func (s *RedisStore) Create(ctx context.Context, p Payload) (Session, error) {
	now := s.opts.now()

	cookies, err := json.Marshal(p.Cookies)
	if err != nil {
		return Session{}, fmt.Errorf("session: marshal cookies: %w", err)
	}
	metadata, err := json.Marshal(cloneMetadata(p.Metadata))
	if err != nil {
		return Session{}, fmt.Errorf("session: marshal metadata: %w", err)
	}

	var ttlMillis int64
	if s.opts.ttl > 0 {
		ttlMillis = (s.opts.ttl + keyGrace).Milliseconds()
	}

	for i := 0; i < maxIDAttempts; i++ {
		id := s.opts.ids.NewID()
		created, err := s.create.Run(ctx, s.client, []string{KeyPrefix + id, IndexKey},
			id,
			string(StatusPending),
			now.UnixMilli(),
			p.TargetURL,
			cookies,
			metadata,
			ttlMillis,
		).Int()
		if err != nil {
			return Session{}, fmt.Errorf("session: create: %w", err)
		}
		if created == 0 {
			continue
		}

		createdAt := time.UnixMilli(now.UnixMilli())
		return Session{
			ID:               id,
			Status:           StatusPending,
			CreatedAt:        createdAt,
			LastTransitionAt: createdAt,
			TargetURL:        p.TargetURL,
			Cookies:          slices.Clone(p.Cookies),
			Metadata:         cloneMetadata(p.Metadata),
		}, nil
	}

	return Session{}, ErrIDExhausted
}

// Get retrieves a session from Redis.
func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	fields, err := s.client.HGetAll(ctx, KeyPrefix+id).Result()
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}

	sess, err := decodeSession(fields)
	if err != nil {
		return Session{}, err
	}
	if s.opts.expired(&sess, s.opts.now()) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// SetStatus overwrites the status without checking the state machine.
func (s *RedisStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	now := s.opts.now()

	code, err := s.setStatus.Run(ctx, s.client, []string{KeyPrefix + id, IndexKey},
		id,
		string(status),
		now.UnixMilli(),
		s.cutoff(now),
	).Int()
	if err != nil {
		return fmt.Errorf("session: set status: %w", err)
	}
	if code < 0 {
		return ErrNotFound
	}
	return nil
}

// Transition performs a compare-and-set on the session status.
func (s *RedisStore) Transition(ctx context.Context, id string, to Status, from ...Status) (Session, error) {
	if !to.Valid() {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	now := s.opts.now()

	args := make([]interface{}, 0, 3+len(from))
	args = append(args, string(to), now.UnixMilli(), s.cutoff(now))
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.transition.Run(ctx, s.client, []string{KeyPrefix + id}, args...).Slice()
	if err != nil {
		return Session{}, fmt.Errorf("session: transition: %w", err)
	}
	if len(res) < 2 {
		return Session{}, ErrNotFound
	}

	code, _ := res[0].(int64)
	current, _ := res[1].(string)
	if code < 0 {
		return Session{}, ErrNotFound
	}

	sess, err := decodeSession(pairsToMap(res[2:]))
	if err != nil {
		return Session{}, err
	}
	if code == 0 {
		return sess, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	return sess, nil
}

// Evict deletes sessions created before now-ttl and sessions marked expired.
// Hashes already removed by their Redis TTL are reported with the id only.
func (s *RedisStore) Evict(ctx context.Context, now time.Time, ttl time.Duration) ([]Session, error) {
	ids, err := s.client.ZRangeByScore(ctx, IndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.Add(-ttl).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("session: evict scan: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	reads := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			reads[i] = pipe.HGetAll(ctx, KeyPrefix+id)
			pipe.Del(ctx, KeyPrefix+id)
			pipe.ZRem(ctx, IndexKey, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: evict: %w", err)
	}

	evicted := make([]Session, 0, len(ids))
	for i, id := range ids {
		gone := Session{ID: id}
		if fields := reads[i].Val(); len(fields) > 0 {
			if sess, err := decodeSession(fields); err == nil {
				gone = sess
			}
		}
		gone.Status = StatusExpired
		evicted = append(evicted, gone)
	}
	return evicted, nil
}

// Stats reads every indexed session. Intended for low-volume monitoring.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := newStats()

	ids, err := s.client.ZRange(ctx, IndexKey, 0, -1).Result()
	if err != nil {
		return st, fmt.Errorf("session: stats scan: %w", err)
	}
	if len(ids) == 0 {
		return st, nil
	}

	reads := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			reads[i] = pipe.HGetAll(ctx, KeyPrefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, fmt.Errorf("session: stats: %w", err)
	}

	now := s.opts.now()
	for _, cmd := range reads {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil || s.opts.expired(&sess, now) {
			continue
		}
		st.add(&sess)
	}

	slices.Sort(st.PendingIDs)
	return st, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// cutoff is the oldest creation time, in unix milliseconds, that is still
// visible. 0 disables the check.
func (s *RedisStore) cutoff(now time.Time) int64 {
	if s.opts.ttl <= 0 {
		return 0
	}
	return now.Add(-s.opts.ttl).UnixMilli()
}

func decodeSession(fields map[string]string) (Session, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session: decode created_at: %w", err)
	}
	transitionAt, err := strconv.ParseInt(fields["last_transition_at"], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session: decode last_transition_at: %w", err)
	}

	sess := Session{
		ID:               fields["id"],
		Status:           Status(fields["status"]),
		CreatedAt:        time.UnixMilli(createdAt),
		LastTransitionAt: time.UnixMilli(transitionAt),
		TargetURL:        fields["target_url"],
	}
	if raw := fields["cookies"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &sess.Cookies); err != nil {
			return Session{}, fmt.Errorf("session: decode cookies: %w", err)
		}
	}
	sess.Metadata = make(map[string]string)
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("session: decode metadata: %w", err)
		}
	}
	return sess, nil
}

// pairsToMap converts a flat HGETALL reply into a map.
func pairsToMap(flat []interface{}) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return m
}

// createLua inserts the session hash only if the id is unused.
//
//	KEYS: session key, index key
//	ARGV: id, status, created_at_ms, target_url, cookies, metadata, ttl_ms
const createLua = `
local key = KEYS[1]
local index = KEYS[2]

if redis.call('EXISTS', key) == 1 then return 0 end

redis.call('HSET', key,
    'id', ARGV[1],
    'status', ARGV[2],
    'created_at', ARGV[3],
    'last_transition_at', ARGV[3],
    'target_url', ARGV[4],
    'cookies', ARGV[5],
    'metadata', ARGV[6])

local ttl = tonumber(ARGV[7])
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end

redis.call('ZADD', index, ARGV[3], ARGV[1])
return 1
`

// transitionLua moves the status to ARGV[1] when the current status is one
// of ARGV[4..]. Returns {code, current_status, HGETALL...}:
//
//	1  = transitioned, or already at the target status
//	0  = current status not allowed
//	-1 = not found, expired or older than the cutoff
const transitionLua = `
local key = KEYS[1]
local to = ARGV[1]
local cutoff = tonumber(ARGV[3])

local cur = redis.call('HGET', key, 'status')
if not cur or cur == 'expired' then return {-1} end
if cutoff > 0 and tonumber(redis.call('HGET', key, 'created_at')) < cutoff then return {-1} end

local code = 1
if cur ~= to then
    local allowed = false
    for i = 4, #ARGV do
        if ARGV[i] == cur then allowed = true break end
    end
    if allowed then
        redis.call('HSET', key, 'status', to, 'last_transition_at', ARGV[2])
    else
        code = 0
    end
end

local out = redis.call('HGETALL', key)
table.insert(out, 1, cur)
table.insert(out, 1, code)
return out
`

// setStatusLua writes the status unconditionally. Expired sessions are
// re-scored to 0 in the index so the next sweep removes them.
//
//	KEYS: session key, index key
//	ARGV: id, status, now_ms, cutoff_ms
const setStatusLua = `
local key = KEYS[1]
local cutoff = tonumber(ARGV[4])

local cur = redis.call('HGET', key, 'status')
if not cur or cur == 'expired' then return -1 end
if cutoff > 0 and tonumber(redis.call('HGET', key, 'created_at')) < cutoff then return -1 end

redis.call('HSET', key, 'status', ARGV[2], 'last_transition_at', ARGV[3])
if ARGV[2] == 'expired' then
    redis.call('ZADD', KEYS[2], 0, ARGV[1])
end
return 1
`
