package redis

const (
	// insertLimitScript allocates a limit id and stores the record with its index entry
	insertLimitScript = `
local seq_key = KEYS[1]     -- zen:limits:seq
local all_key = KEYS[2]     -- zen:limits:all

local record_prefix = ARGV[1]
local pattern = ARGV[2]
local limit = ARGV[3]
local created = ARGV[4]
local updated = ARGV[5]

local id = redis.call('INCR', seq_key)
local record_key = record_prefix .. id

redis.call('HSET', record_key,
  'id', id,
  'pattern', pattern,
  'limit', limit,
  'created', created,
  'updated', updated
)

redis.call('ZADD', all_key, id, id)

return id
`
)
