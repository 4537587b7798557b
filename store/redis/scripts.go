package redis

import "github.com/redis/go-redis/v9"

// Server-side scripts for the operations whose correctness depends on
// atomicity. Everything else uses plain commands and pipelines.

// createCommandScript claims an idempotency key and stores the command in
// one atomic step. Returns the existing command ID when the key is
// already held, or an empty string when this call inserted the command.
//
// KEYS: [1] idempotency key hash, [2] command entity key,
// [3] command IDs zset, [4] queue zset, [5] run_at hash, [6] queues set
// ARGV: [1] idempotency key, [2] command ID, [3] entity JSON,
// [4] created-at ms, [5] queue score, [6] run_at ms, [7] queue name
var createCommandScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
	return existing
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], tonumber(ARGV[4]), ARGV[2])
redis.call('ZADD', KEYS[4], tonumber(ARGV[5]), ARGV[2])
redis.call('HSET', KEYS[5], ARGV[2], ARGV[6])
redis.call('SADD', KEYS[6], ARGV[7])
return ''
`)

// dequeueScript claims up to limit due command IDs from one queue zset.
// Removal from the zset is the claim: each ID is handed to exactly one
// caller. The caller flips the entity to running afterwards.
//
// KEYS: [1] queue zset, [2] lease zset, [3] run_at hash
// ARGV: [1] now ms, [2] limit, [3] lease expiry ms
var dequeueScript = redis.NewScript(`
local claimed = {}
local limit = tonumber(ARGV[2])
local nowms = tonumber(ARGV[1])
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, cid in ipairs(ids) do
	if #claimed >= limit then
		break
	end
	local runat = tonumber(redis.call('HGET', KEYS[3], cid) or '0')
	if runat <= nowms then
		redis.call('ZREM', KEYS[1], cid)
		redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), cid)
		claimed[#claimed+1] = cid
	end
end
return claimed
`)

// releaseRetriesScript pops due command IDs from the retry zset. The
// caller moves each entity back to queued.
//
// KEYS: [1] retry zset
// ARGV: [1] now ms, [2] limit
var releaseRetriesScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, cid in ipairs(ids) do
	redis.call('ZREM', KEYS[1], cid)
end
return ids
`)

// openAttemptScript creates the next attempt for a command unless one is
// already open. Returns the assigned attempt number, or 0 when an open
// attempt exists.
//
// KEYS: [1] open marker, [2] attempt idx zset, [3] attempt entity key
// ARGV: [1] attempt ID, [2] entity JSON (number patched in)
var openAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local n = redis.call('ZCARD', KEYS[2]) + 1
local a = cjson.decode(ARGV[2])
a['number'] = n
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[3], cjson.encode(a))
redis.call('ZADD', KEYS[2], n, ARGV[1])
return n
`)

// putSnapshotScript writes a snapshot if the stored version equals the
// expected one. Expected version 0 means the snapshot must not exist.
// Returns 1 on success, 0 on version conflict.
//
// KEYS: [1] snapshot key, [2] scope index set
// ARGV: [1] expected version, [2] entity JSON, [3] scope key
var putSnapshotScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if expected == 0 then
	if raw then
		return 0
	end
else
	if not raw then
		return 0
	end
	local cur = cjson.decode(raw)
	if tonumber(cur['version']) ~= expected then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// swapReplayStatusScript advances an entry's replay status if it
// currently equals from. Returns 1 on success, 0 on mismatch, -1 when
// the entry does not exist.
//
// KEYS: [1] entry key
// ARGV: [1] from status, [2] to status
var swapReplayStatusScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return -1
end
local e = cjson.decode(raw)
if e['replay_status'] ~= ARGV[1] then
	return 0
end
e['replay_status'] = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(e))
return 1
`)
