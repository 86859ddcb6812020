package redis

const (
	// addGroupDailyTimeScript atomically applies a contribution delta to a
	// group's daily leaderboard, guarded by a per-flush dedup marker. A
	// delta whose marker already exists has been applied and is skipped.
	addGroupDailyTimeScript = `
local lb_key = KEYS[1]        -- studytick:lb:{groupID}:{date}
local flush_key = KEYS[2]     -- studytick:flush:{groupID}:{userID}:{flushID}

local user_id = ARGV[1]
local delta = tonumber(ARGV[2])

-- Reject already-applied flushes
local first = redis.call('SETNX', flush_key, '1')
if first == 0 then
  return 'DUP'
end

-- Dedup markers only need to outlive the retry window (2 days)
redis.call('EXPIRE', flush_key, 172800)

redis.call('ZINCRBY', lb_key, delta, user_id)

-- Daily boards expire after 90 days (7776000 seconds)
redis.call('EXPIRE', lb_key, 7776000)

return 'OK'
`
)
