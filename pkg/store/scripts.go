package store

import "github.com/redis/go-redis/v9"

// Lua scripts for the multi-key operations. go-redis Script.Run handles the
// EVALSHA/EVAL fallback, so scripts are declared once at package level.

// claimScript implements the worker claim handshake.
//
// KEYS: 1=queue, 2=session, 3=claim, 4=worker sessions set
// ARGV: 1=sessionID, 2=workerID, 3=claim TTL ms, 4=now ms
//
// Returns {reason} on refusal or {"claimed", sessionJSON} on success. A lease
// race re-adds the queue entry before refusing, so the work is not lost.
var claimScript = redis.NewScript(`
local removed = redis.call("zrem", KEYS[1], ARGV[1])
if removed == 0 then
  return {"expired"}
end
local raw = redis.call("get", KEYS[2])
if not raw then
  return {"expired"}
end
local sess = cjson.decode(raw)
if sess.status ~= "pending" then
  return {"wrong_status"}
end
local ok = redis.call("set", KEYS[3], ARGV[2], "PX", tonumber(ARGV[3]), "NX")
if not ok then
  local score = (tonumber(sess.priority) or 0) * 1e13 + (tonumber(sess.queued_at) or 0)
  redis.call("zadd", KEYS[1], score, ARGV[1])
  return {"transient_failure"}
end
sess.status = "claimed"
sess.worker_id = ARGV[2]
sess.claimed_at = tonumber(ARGV[4])
sess.updated_at = tonumber(ARGV[4])
local encoded = cjson.encode(sess)
redis.call("set", KEYS[2], encoded)
redis.call("sadd", KEYS[4], ARGV[1])
return {"claimed", encoded}
`)

// casSessionScript replaces a session record only while its stored status
// matches ARGV[1], preserving any TTL already on the key.
//
// KEYS: 1=session
// ARGV: 1=expected status, 2=new JSON
//
// Returns 1 on success, 0 on status mismatch, -1 when the record is gone.
var casSessionScript = redis.NewScript(`
local raw = redis.call("get", KEYS[1])
if not raw then
  return -1
end
local sess = cjson.decode(raw)
if sess.status ~= ARGV[1] then
  return 0
end
local ttl = redis.call("pttl", KEYS[1])
if ttl > 0 then
  redis.call("set", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("set", KEYS[1], ARGV[2])
end
return 1
`)

// transferScript reassigns a session to another worker: CAS on the record's
// worker_id, rewrite of the claim lease, and move of the reverse-index entry.
//
// KEYS: 1=session, 2=claim, 3=from sessions set, 4=to sessions set
// ARGV: 1=sessionID, 2=fromWorkerID, 3=toWorkerID, 4=claim TTL ms, 5=now ms
//
// Returns 1 on success, 0 on ownership mismatch, -1 when the record is gone.
var transferScript = redis.NewScript(`
local raw = redis.call("get", KEYS[1])
if not raw then
  return -1
end
local sess = cjson.decode(raw)
if sess.worker_id ~= ARGV[2] then
  return 0
end
sess.worker_id = ARGV[3]
sess.updated_at = tonumber(ARGV[5])
redis.call("set", KEYS[1], cjson.encode(sess))
redis.call("set", KEYS[2], ARGV[3], "PX", tonumber(ARGV[4]))
redis.call("smove", KEYS[3], KEYS[4], ARGV[1])
return 1
`)

// renewIfOwnedScript extends a lease only while ARGV[1] still owns it.
//
// KEYS: 1=lease key
// ARGV: 1=owner token, 2=TTL ms
var renewIfOwnedScript = redis.NewScript(`
local val = redis.call("get", KEYS[1])
if not val then
  return 0
end
if val ~= ARGV[1] then
  return 0
end
return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
`)

// deleteIfOwnedScript deletes a lease only while ARGV[1] still owns it.
//
// KEYS: 1=lease key
// ARGV: 1=owner token
var deleteIfOwnedScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// renewLockScript extends an issue lock only while ARGV[1] is the holding
// session. The lock value is JSON, so the owner check decodes it.
//
// KEYS: 1=lock key
// ARGV: 1=sessionID, 2=TTL ms
var renewLockScript = redis.NewScript(`
local raw = redis.call("get", KEYS[1])
if not raw then
  return 0
end
local lock = cjson.decode(raw)
if lock.session_id ~= ARGV[1] then
  return 0
end
return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
`)

// releaseLockScript deletes an issue lock only while ARGV[1] is the holding
// session.
//
// KEYS: 1=lock key
// ARGV: 1=sessionID
var releaseLockScript = redis.NewScript(`
local raw = redis.call("get", KEYS[1])
if not raw then
  return 0
end
local lock = cjson.decode(raw)
if lock.session_id ~= ARGV[1] then
  return 0
end
return redis.call("del", KEYS[1])
`)

// parkScript appends work to an issue's parked list, replacing an existing
// entry of the same work type in place.
//
// KEYS: 1=parked list
// ARGV: 1=work JSON, 2=work type
//
// Returns 1 when an entry was replaced, 0 when appended.
var parkScript = redis.NewScript(`
local items = redis.call("lrange", KEYS[1], 0, -1)
for i, raw in ipairs(items) do
  local it = cjson.decode(raw)
  if it.work_type == ARGV[2] then
    redis.call("lset", KEYS[1], i - 1, ARGV[1])
    return 1
  end
end
redis.call("rpush", KEYS[1], ARGV[1])
return 0
`)

// popParkedScript removes and returns the best parked entry: lowest priority
// value first, oldest queuedAt on ties.
//
// KEYS: 1=parked list
var popParkedScript = redis.NewScript(`
local items = redis.call("lrange", KEYS[1], 0, -1)
if #items == 0 then
  return false
end
local bestIdx = 1
local bestPri = nil
local bestAt = nil
for i, raw in ipairs(items) do
  local it = cjson.decode(raw)
  local pri = tonumber(it.priority) or 0
  local at = tonumber(it.queued_at) or 0
  if bestPri == nil or pri < bestPri or (pri == bestPri and at < bestAt) then
    bestIdx = i
    bestPri = pri
    bestAt = at
  end
end
local chosen = items[bestIdx]
redis.call("lrem", KEYS[1], 1, chosen)
return chosen
`)

// removeParkedScript drops the parked entry with the given session ID.
//
// KEYS: 1=parked list
// ARGV: 1=sessionID
var removeParkedScript = redis.NewScript(`
local items = redis.call("lrange", KEYS[1], 0, -1)
for i, raw in ipairs(items) do
  local it = cjson.decode(raw)
  if it.session_id == ARGV[1] then
    redis.call("lrem", KEYS[1], 1, raw)
    return 1
  end
end
return 0
`)

// takePromptScript removes and returns the pending prompt with the given ID.
//
// KEYS: 1=prompts list
// ARGV: 1=prompt ID
var takePromptScript = redis.NewScript(`
local items = redis.call("lrange", KEYS[1], 0, -1)
for i, raw in ipairs(items) do
  local it = cjson.decode(raw)
  if it.id == ARGV[1] then
    redis.call("lrem", KEYS[1], 1, raw)
    return raw
  end
end
return false
`)
