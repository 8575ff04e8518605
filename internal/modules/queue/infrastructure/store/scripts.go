package store

import "github.com/redis/go-redis/v9"

// KEYS[1]=job KEYS[2]=waiting; ARGV[1]=id ARGV[2..]=字段
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1]=waiting KEYS[2]=active KEYS[3]=paused; ARGV[1]=job 前缀 ARGV[2]=lease_until ARGV[3]=now ARGV[4]=token
var leaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then return false end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then return false end
  local key = ARGV[1] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    redis.call('HSET', key, 'state', 'active', 'lease_until', ARGV[2], 'processed_at', ARGV[3], 'lease_token', ARGV[4])
    return id
  end
end
`)

// KEYS[1]=active KEYS[2]=job; ARGV[1]=id ARGV[2]=token ARGV[3]=progress ARGV[4]=lease_until
var touchScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if redis.call('HGET', KEYS[2], 'lease_token') ~= ARGV[2] then return 0 end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[2], 'progress', ARGV[3], 'lease_until', ARGV[4])
return 1
`)

// KEYS[1]=active KEYS[2]=目标集合 KEYS[3]=job; ARGV[1]=id ARGV[2]=token ARGV[3]=score ARGV[4..]=字段
var finishScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if redis.call('HGET', KEYS[3], 'lease_token') ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], unpack(ARGV, 4))
redis.call('HDEL', KEYS[3], 'lease_token', 'lease_until')
return 1
`)

// KEYS[1]=delayed KEYS[2]=waiting; ARGV[1]=now ARGV[2]=job 前缀
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
  redis.call('HDEL', ARGV[2] .. id, 'run_at')
end
return #ids
`)

// KEYS[1]=active KEYS[2]=waiting; ARGV[1]=now ARGV[2]=job 前缀
// 逆序 LPUSH，最早过期的任务排在队首
var stalledScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for i = #ids, 1, -1 do
  local id = ids[i]
  local key = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', key, 'state', 'waiting')
  redis.call('HDEL', key, 'lease_token', 'lease_until')
  redis.call('HINCRBY', key, 'stalled_count', 1)
end
return ids
`)

// KEYS[1]=failed KEYS[2]=waiting KEYS[3]=job; ARGV[1]=id
var retryScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then return -1 end
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'waiting', 'attempts', 0, 'progress', 0)
redis.call('HINCRBY', KEYS[3], 'manual_retries', 1)
redis.call('HDEL', KEYS[3], 'failed_reason', 'finished_at', 'result')
return 1
`)

// KEYS[1]=failed KEYS[2]=waiting; ARGV[1]=job 前缀
var retryAllScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
  redis.call('HSET', key, 'state', 'waiting', 'attempts', 0, 'progress', 0)
  redis.call('HINCRBY', key, 'manual_retries', 1)
  redis.call('HDEL', key, 'failed_reason', 'finished_at', 'result')
end
return #ids
`)

// KEYS[1]=waiting KEYS[2]=job; ARGV[1]=id
var removeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then return 0 end
redis.call('DEL', KEYS[2])
return 1
`)

// KEYS[1]=completed/failed 集合; ARGV[1]=older_than ARGV[2]=limit ARGV[3]=job 前缀
var cleanScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('DEL', ARGV[3] .. id)
end
return #ids
`)
