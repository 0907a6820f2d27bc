package sharedstore

// The three atomic mutation scripts. Each runs under EVALSHA (cached at
// startup) against the list's hash key. KEYS[1] is the list
// key (todo:state:{list_id}); ARGV carries the mutation payload. Each script
// derives rev from the store's own clock (TIME), mutates the items map, and
// PUBLISHes a message. The publish only happens if the write commits,
// because Lua scripts on Redis run to completion atomically.

const addItemScript = `
local listKey = KEYS[1]
local channel = KEYS[2]
local itemID = ARGV[1]
local itemJSON = ARGV[2]
local listID = ARGV[3]

local t = redis.call('TIME')
local newRev = tonumber(t[1]) + tonumber(t[2]) / 1000000

local itemsRaw = redis.call('HGET', listKey, 'items')
local items = {}
if itemsRaw then
	items = cjson.decode(itemsRaw)
end
items[itemID] = cjson.decode(itemJSON)

redis.call('HSET', listKey, 'items', cjson.encode(items), 'rev', tostring(newRev), 'updated_at', t[1])

local msg = cjson.encode({type = 'item_added', list_id = listID, item = items[itemID], rev = tostring(newRev)})
redis.call('PUBLISH', channel, msg)

return tostring(newRev)
`

const updateItemScript = `
local listKey = KEYS[1]
local channel = KEYS[2]
local itemID = ARGV[1]
local itemJSON = ARGV[2]
local listID = ARGV[3]

if redis.call('EXISTS', listKey) == 0 then
	return redis.error_reply('list not found')
end

local itemsRaw = redis.call('HGET', listKey, 'items')
if not itemsRaw then
	return redis.error_reply('list has no items')
end
local items = cjson.decode(itemsRaw)
if items[itemID] == nil then
	return redis.error_reply('item not found')
end

local t = redis.call('TIME')
local newRev = tonumber(t[1]) + tonumber(t[2]) / 1000000

items[itemID] = cjson.decode(itemJSON)
redis.call('HSET', listKey, 'items', cjson.encode(items), 'rev', tostring(newRev), 'updated_at', t[1])

local msg = cjson.encode({type = 'item_updated', list_id = listID, item = items[itemID], rev = tostring(newRev)})
redis.call('PUBLISH', channel, msg)

return tostring(newRev)
`

const deleteItemScript = `
local listKey = KEYS[1]
local channel = KEYS[2]
local itemID = ARGV[1]
local listID = ARGV[2]
local tombstoneJSON = ARGV[3]

if redis.call('EXISTS', listKey) == 0 then
	return redis.error_reply('list not found')
end

local itemsRaw = redis.call('HGET', listKey, 'items')
if not itemsRaw then
	return redis.error_reply('list has no items')
end
local items = cjson.decode(itemsRaw)
if items[itemID] == nil then
	return redis.error_reply('item not found')
end

local t = redis.call('TIME')
local newRev = tonumber(t[1]) + tonumber(t[2]) / 1000000

items[itemID] = cjson.decode(tombstoneJSON)
redis.call('HSET', listKey, 'items', cjson.encode(items), 'rev', tostring(newRev), 'updated_at', t[1])

local msg = cjson.encode({type = 'item_deleted', list_id = listID, item_id = itemID, rev = tostring(newRev)})
redis.call('PUBLISH', channel, msg)

return tostring(newRev)
`
