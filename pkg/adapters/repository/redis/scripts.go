package redis

import goredis "github.com/redis/go-redis/v9"

// Reply codes shared by the scripts below.
const (
	replyOK           = 1
	replyNotFound     = -1
	replyDupCode      = -2
	replyGone         = -3
	replyLimit        = -4
	replyInvalidState = -5
	replyDupAlias     = -6
)

// insertScript claims the code and alias keys and writes the link hash.
//
// KEYS[1]: identifier key of the code
// KEYS[2]: identifier key of the alias
// KEYS[3]: link hash
// KEYS[4]: insertion order zset
// KEYS[5]: id sequence
// KEYS[6]: visitor zset
// ARGV[1..9]: code, alias, long_url, created_at, request_limit, status,
// access_count, unique_users, last_accessed_at; ARGV[10..]: visitors
//
// Returns the new id, -2 for a taken code or -6 for a taken alias.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return -2
end
if ARGV[2] ~= ARGV[1] and redis.call('EXISTS', KEYS[2]) == 1 then
    return -6
end

local id = redis.call('INCR', KEYS[5])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3],
    'id', id, 'code', ARGV[1], 'alias', ARGV[2], 'long_url', ARGV[3],
    'created_at', ARGV[4], 'request_limit', ARGV[5], 'status', ARGV[6],
    'access_count', ARGV[7], 'unique_users', ARGV[8], 'last_accessed_at', ARGV[9])
redis.call('ZADD', KEYS[4], id, ARGV[1])
for i = 10, #ARGV do
    redis.call('ZADD', KEYS[6], 'NX', i - 9, ARGV[i])
end
return id
`)

// recordVisitScript counts one redirect.
//
// KEYS[1]: identifier key
// ARGV[1]: key prefix
// ARGV[2]: client id
// ARGV[3]: visit time
//
// Returns the link code, or -1 / -3 / -4.
var recordVisitScript = goredis.NewScript(`
local code = redis.call('GET', KEYS[1])
if not code then
    return -1
end

local link = ARGV[1] .. 'link:' .. code
local cur = redis.call('HMGET', link, 'status', 'request_limit', 'access_count')
if cur[1] ~= 'active' then
    return -3
end
local count = tonumber(cur[3])
if cur[2] and cur[2] ~= '' and count >= tonumber(cur[2]) then
    return -4
end

count = redis.call('HINCRBY', link, 'access_count', 1)
-- ZADD NX reports whether the client is new; the score keeps first-visit order.
if redis.call('ZADD', ARGV[1] .. 'visitors:' .. code, 'NX', count, ARGV[2]) == 1 then
    redis.call('HINCRBY', link, 'unique_users', 1)
end
redis.call('HSET', link, 'last_accessed_at', ARGV[3])
return code
`)

// updateAliasScript moves an active link to a new alias.
//
// KEYS[1]: link hash
// KEYS[2]: identifier key of the new alias
// ARGV[1]: code
// ARGV[2]: new alias
// ARGV[3]: key prefix
var updateAliasScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status', 'alias')
if cur[1] ~= 'active' then
    return -1
end
if cur[2] == ARGV[2] then
    return 1
end

local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[1] then
    return -6
end

redis.call('SET', KEYS[2], ARGV[1])
if cur[2] ~= ARGV[1] then
    redis.call('DEL', ARGV[3] .. 'id:' .. cur[2])
end
redis.call('HSET', KEYS[1], 'alias', ARGV[2])
return 1
`)

// updateLimitScript sets request_limit unless it is below access_count.
//
// KEYS[1]: link hash
// ARGV[1]: limit
var updateLimitScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status', 'access_count')
if cur[1] ~= 'active' then
    return -1
end
if tonumber(cur[2]) > tonumber(ARGV[1]) then
    return -5
end
redis.call('HSET', KEYS[1], 'request_limit', ARGV[1])
return 1
`)

// deactivateScript marks an active link deleted.
//
// KEYS[1]: link hash
var deactivateScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'active' then
    return -1
end
redis.call('HSET', KEYS[1], 'status', 'deleted')
return 1
`)
