package redis

const (
	// openSessionScript creates an open session only if none exists
	openSessionScript = `
local active_key = KEYS[1]      -- {prefix}:active:{community}:{member}
local active_index = KEYS[2]    -- {prefix}:active:{community}
local communities = KEYS[3]     -- {prefix}:communities:active

local community = ARGV[1]
local member = ARGV[2]
local started_at = ARGV[3]
local started_us = ARGV[4]

if redis.call('EXISTS', active_key) == 1 then
  return 0
end

redis.call('HSET', active_key,
  'community', community,
  'member', member,
  'started_at', started_at,
  'started_us', started_us
)
redis.call('SADD', active_index, member)
redis.call('SADD', communities, community)

return 1
`

	// closeSessionScript deletes the open session, appends the audit entry
	// and credits the total. Returns nil when nothing is open.
	closeSessionScript = `
local active_key = KEYS[1]      -- {prefix}:active:{community}:{member}
local active_index = KEYS[2]    -- {prefix}:active:{community}
local communities = KEYS[3]     -- {prefix}:communities:active
local sessions = KEYS[4]        -- {prefix}:sessions:{community}
local totals = KEYS[5]          -- {prefix}:totals:{community}

local community = ARGV[1]
local member = ARGV[2]
local ended_at = ARGV[3]
local ended_us = tonumber(ARGV[4])

local started = redis.call('HMGET', active_key, 'started_at', 'started_us')
if not started[1] then
  return false
end

local duration = (ended_us - tonumber(started[2])) / 1000000
if duration < 0 then
  duration = 0
end

redis.call('DEL', active_key)
redis.call('SREM', active_index, member)
if redis.call('SCARD', active_index) == 0 then
  redis.call('SREM', communities, community)
end

local id = redis.call('XADD', sessions, '*',
  'community', community,
  'member', member,
  'started_at', started[1],
  'ended_at', ended_at,
  'duration_seconds', tostring(duration)
)
redis.call('ZINCRBY', totals, duration, member)

return {id, started[1], tostring(duration)}
`

	// deductSecondsScript subtracts from a total, flooring at zero
	deductSecondsScript = `
local totals = KEYS[1]          -- {prefix}:totals:{community}

local member = ARGV[1]
local delta = tonumber(ARGV[2])

local current = tonumber(redis.call('ZSCORE', totals, member) or '0')
local value = current - delta
if value < 0 then
  value = 0
end

redis.call('ZADD', totals, value, member)

return tostring(value)
`

	// clearAllScript removes every total of a community and returns the count
	clearAllScript = `
local totals = KEYS[1]          -- {prefix}:totals:{community}

local count = redis.call('ZCARD', totals)
redis.call('DEL', totals)

return count
`
)
