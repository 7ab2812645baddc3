package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 房间在线状态：成员、光标、正在输入。
// 全部数据都带 TTL，进程崩溃不会留下永久幽灵成员；
// 记录缺失一律当作“过期/未知”，不是错误。
type PresenceCache interface {
	Join(ctx context.Context, docID uint64, userID uint64, username string) error
	Leave(ctx context.Context, docID uint64, userID uint64) error
	Refresh(ctx context.Context, docID uint64, userID uint64) error
	Members(ctx context.Context, docID uint64) ([]PresenceMember, error)
	SetCursor(ctx context.Context, docID uint64, userID uint64, jsonData []byte) error
	Cursors(ctx context.Context, docID uint64) (map[uint64]json.RawMessage, error)
	SetTyping(ctx context.Context, docID uint64, userID uint64, username string, typing bool) error
	TypingMembers(ctx context.Context, docID uint64) ([]TypingMember, error)
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
}

type TypingMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
}

// typingEntry typing Hash 的 value
type typingEntry struct {
	Username  string `json:"username"`
	UpdatedAt int64  `json:"updatedAt"` // unix 毫秒
}

type PresenceOptions struct {
	PresenceTTL time.Duration // 成员心跳，默认 600s
	RoomTTL     time.Duration // 房间 ZSet/names 的粗粒度兜底 TTL，默认 24h
	CursorTTL   time.Duration // 光标，默认 2min
	TypingTTL   time.Duration // typing Hash 键 TTL，默认 30s
	TypingFresh time.Duration // 读侧的更严格新鲜度窗口，默认 10s
}

func (o *PresenceOptions) withDefaults() {
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 600 * time.Second
	}
	if o.RoomTTL <= 0 {
		o.RoomTTL = 24 * time.Hour
	}
	if o.CursorTTL <= 0 {
		o.CursorTTL = 2 * time.Minute
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 30 * time.Second
	}
	if o.TypingFresh <= 0 {
		o.TypingFresh = 10 * time.Second
	}
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb *redis.Client
	opt PresenceOptions
}

func NewRedisPresence(rdb *redis.Client, opt PresenceOptions) PresenceCache {
	opt.withDefaults()
	return &redisPresence{rdb: rdb, opt: opt}
}

// joinScript 先按 userId 或 username 驱逐旧身份，再插入新成员。
// 同一用户重连、或两个账号顶着同一个展示名时，房间里绝不会同时出现两条。
var joinScript = redis.NewScript(`
-- KEYS[1] = roomKey   KEYS[2] = namesKey
-- ARGV[1] = userID  ARGV[2] = username  ARGV[3] = now(unix)
-- ARGV[4] = memberKeyPrefix  ARGV[5] = cursorKeyPrefix
-- ARGV[6] = presenceTTL(s)  ARGV[7] = roomTTL(s)
local fields = redis.call("HGETALL", KEYS[2])
for i = 1, #fields, 2 do
	local uid = fields[i]
	local name = fields[i + 1]
	if uid == ARGV[1] or name == ARGV[2] then
		redis.call("ZREM", KEYS[1], uid)
		redis.call("HDEL", KEYS[2], uid)
		redis.call("DEL", ARGV[4] .. uid, ARGV[5] .. uid)
	end
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("SET", ARGV[4] .. ARGV[1], "1", "EX", ARGV[6])
redis.call("EXPIRE", KEYS[1], ARGV[7])
redis.call("EXPIRE", KEYS[2], ARGV[7])
return 1
`)

func (p *redisPresence) Join(ctx context.Context, docID uint64, userID uint64, username string) error {
	now := time.Now().Unix()
	return joinScript.Run(ctx, p.rdb,
		[]string{roomKey(docID), namesKey(docID)},
		userID, username, now,
		memberKeyPrefix(docID), cursorKeyPrefix(docID),
		int(p.opt.PresenceTTL.Seconds()), int(p.opt.RoomTTL.Seconds()),
	).Err()
}

func (p *redisPresence) Leave(ctx context.Context, docID uint64, userID uint64) error {
	pipe := p.rdb.TxPipeline()
	pipe.ZRem(ctx, roomKey(docID), userID)
	pipe.HDel(ctx, namesKey(docID), strconv.FormatUint(userID, 10))
	pipe.Del(ctx, memberKey(docID, userID), cursorKey(docID, userID))
	pipe.HDel(ctx, typingKey(docID), strconv.FormatUint(userID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh 只刷新心跳和兜底 TTL，不改身份信息。
func (p *redisPresence) Refresh(ctx context.Context, docID uint64, userID uint64) error {
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, memberKey(docID, userID), "1", p.opt.PresenceTTL)
	pipe.Expire(ctx, roomKey(docID), p.opt.RoomTTL)
	pipe.Expire(ctx, namesKey(docID), p.opt.RoomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Members 按加入顺序返回存活成员：
// ZSet 给顺序，心跳键 EXISTS 给存活，名字表补 username。
func (p *redisPresence) Members(ctx context.Context, docID uint64) ([]PresenceMember, error) {
	entries, err := p.rdb.ZRangeWithScores(ctx, roomKey(docID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]uint64, 0, len(entries))
	joined := make([]int64, 0, len(entries))
	existsCmds := make([]*redis.IntCmd, 0, len(entries))
	pipe := p.rdb.Pipeline()
	for _, z := range entries {
		member, _ := z.Member.(string)
		uid, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uid)
		joined = append(joined, int64(z.Score))
		existsCmds = append(existsCmds, pipe.Exists(ctx, memberKey(docID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	aliveIDs := make([]uint64, 0, len(ids))
	aliveJoined := make([]int64, 0, len(ids))
	aliveFields := make([]string, 0, len(ids))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			aliveIDs = append(aliveIDs, ids[i])
			aliveJoined = append(aliveJoined, joined[i])
			aliveFields = append(aliveFields, strconv.FormatUint(ids[i], 10))
		}
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveFields...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: aliveIDs[i], Username: name, JoinedAt: aliveJoined[i]})
	}
	return members, nil
}

// SetCursor 写光标的同时刷新成员心跳：任何在场数据的写入都算活跃信号，
// 只动光标不编辑的用户不能被心跳过期踢出成员列表。
func (p *redisPresence) SetCursor(ctx context.Context, docID uint64, userID uint64, jsonData []byte) error {
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, cursorKey(docID, userID), jsonData, p.opt.CursorTTL)
	pipe.Set(ctx, memberKey(docID, userID), "1", p.opt.PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Cursors 只取存活成员的光标，过期的键读到 redis.Nil 直接跳过。
func (p *redisPresence) Cursors(ctx context.Context, docID uint64) (map[uint64]json.RawMessage, error) {
	members, err := p.Members(ctx, docID)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]json.RawMessage, len(members))
	if len(members) == 0 {
		return out, nil
	}
	cmds := make([]*redis.StringCmd, 0, len(members))
	pipe := p.rdb.Pipeline()
	for _, m := range members {
		cmds = append(cmds, pipe.Get(ctx, cursorKey(docID, m.UserID)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, cmd := range cmds {
		b, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out[members[i].UserID] = json.RawMessage(b)
	}
	return out, nil
}

// SetTyping typing=false 立即删除；typing=true 写入时间戳并整表续 TTL。
// 两个方向都刷新成员心跳，理由同 SetCursor。
func (p *redisPresence) SetTyping(ctx context.Context, docID uint64, userID uint64, username string, typing bool) error {
	field := strconv.FormatUint(userID, 10)
	pipe := p.rdb.TxPipeline()
	if !typing {
		pipe.HDel(ctx, typingKey(docID), field)
	} else {
		entry, err := json.Marshal(typingEntry{Username: username, UpdatedAt: time.Now().UnixMilli()})
		if err != nil {
			return err
		}
		pipe.HSet(ctx, typingKey(docID), field, entry)
		pipe.Expire(ctx, typingKey(docID), p.opt.TypingTTL)
	}
	pipe.Set(ctx, memberKey(docID, userID), "1", p.opt.PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// TypingMembers 读侧再做一层比 TTL 更紧的新鲜度过滤，防止抖动。
func (p *redisPresence) TypingMembers(ctx context.Context, docID uint64) ([]TypingMember, error) {
	fields, err := p.rdb.HGetAll(ctx, typingKey(docID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := time.Now().Add(-p.opt.TypingFresh).UnixMilli()
	var out []TypingMember
	var stale []string
	for field, raw := range fields {
		uid, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		var entry typingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			stale = append(stale, field)
			continue
		}
		if entry.UpdatedAt < cutoff {
			stale = append(stale, field)
			continue
		}
		out = append(out, TypingMember{UserID: uid, Username: entry.Username})
	}
	if len(stale) > 0 {
		// 顺手清掉，失败无所谓，TTL 兜底
		_ = p.rdb.HDel(ctx, typingKey(docID), stale...).Err()
	}
	return out, nil
}
