package redis

import "github.com/redis/go-redis/v9"

// Hash fields of a stored document.
const (
	hashBody      = "doc"
	hashGrantID   = "grantId"
	hashExpiresAt = "expiresAt"
	hashConsumed  = "consumed"
)

// KEYS[1] document key. ARGV[1] grant key prefix, ARGV[2] id.
// Returns the flat HGETALL reply of the removed hash, or nil.
var findOneAndDeleteScript = redis.NewScript(`
local h = redis.call('HGETALL', KEYS[1])
if #h == 0 then
  return false
end
redis.call('DEL', KEYS[1])
for i = 1, #h, 2 do
  if h[i] == 'grantId' then
    redis.call('SREM', ARGV[1] .. h[i + 1], ARGV[2])
  end
end
return h
`)

// KEYS[1] document key. Stamps consumed with the server clock in unix
// milliseconds. Field writes keep the key's expiry.
var markConsumedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local t = redis.call('TIME')
local ms = t[1] .. string.format('%03d', math.floor(tonumber(t[2]) / 1000))
redis.call('HSET', KEYS[1], 'consumed', ms)
return 1
`)

// KEYS[1] document key. ARGV: 1 body, 2 grantId, 3 expiresAt ms, 4 consumed
// ms, 5 id, 6 grant key prefix. Empty strings mean absent.
//
// The grant set lives as long as its longest-lived member: it is persisted
// for a member without expiry and otherwise only ever extended (GT).
var replaceScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'grantId')
if old and old ~= ARGV[2] then
  redis.call('SREM', ARGV[6] .. old, ARGV[5])
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'doc', ARGV[1])
if ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], 'grantId', ARGV[2])
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'consumed', ARGV[4])
end
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'expiresAt', ARGV[3])
  redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
if ARGV[2] ~= '' then
  local gk = ARGV[6] .. ARGV[2]
  local existed = redis.call('EXISTS', gk)
  redis.call('SADD', gk, ARGV[5])
  if ARGV[3] == '' then
    redis.call('PERSIST', gk)
  elseif existed == 0 then
    redis.call('PEXPIREAT', gk, ARGV[3])
  else
    redis.call('PEXPIREAT', gk, ARGV[3], 'GT')
  end
end
return 1
`)

// KEYS[1] grant key. ARGV[1] document key prefix, ARGV[2] grantId. Members
// left behind by expired documents may since have been reused under another
// grant, so each document's grantId is checked before removal. Returns the
// number of documents removed.
var deleteByGrantScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(members) do
  local key = ARGV[1] .. id
  if redis.call('HGET', key, 'grantId') == ARGV[2] then
    n = n + redis.call('DEL', key)
  end
end
redis.call('DEL', KEYS[1])
return n
`)
