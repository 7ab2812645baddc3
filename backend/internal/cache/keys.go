package cache

import "fmt"

// 键语义：
// - roomKey(docID):           房间在线成员（ZSet<userId, joinedAtUnix>，score=加入时间，天然保序）
// - memberKey(docID,userID):  成员心跳键（String 占位 "1"，带 TTL，存活=键存在）
// - namesKey(docID):          房间内 userId→username 映射（Hash）
// - cursorKey(docID,userID):  成员光标 JSON（String，独立短 TTL）
// - typingKey(docID):         正在输入表（Hash<userId -> JSON{username,updatedAt}>，带 TTL）
// - documentKey(docID):       文档快照缓存（String JSON，TTL 加抖动，"-1" 为空值标记）

const (
	keyRoomFmt     = "presence:room:%d"      // ZSet<userId, joinedAtUnix>
	keyMemberFmt   = "presence:member:%d:%d" // String "1" with TTL
	keyNamesFmt    = "presence:names:%d"     // Hash<userId -> username>
	keyCursorFmt   = "presence:cursor:%d:%d" // String JSON with TTL
	keyTypingFmt   = "presence:typing:%d"    // Hash<userId -> JSON> with TTL
	keyDocumentFmt = "cache:document:%d"     // String JSON with TTL
)

func roomKey(docID uint64) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func memberKey(docID uint64, userID uint64) string { return fmt.Sprintf(keyMemberFmt, docID, userID) }
func namesKey(docID uint64) string                 { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID uint64, userID uint64) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
func typingKey(docID uint64) string                { return fmt.Sprintf(keyTypingFmt, docID) }
func documentKey(docID uint64) string              { return fmt.Sprintf(keyDocumentFmt, docID) }

// Lua 里需要按 userId 动态拼 member/cursor 键，前缀作为 ARGV 传入
func memberKeyPrefix(docID uint64) string { return fmt.Sprintf("presence:member:%d:", docID) }
func cursorKeyPrefix(docID uint64) string { return fmt.Sprintf("presence:cursor:%d:", docID) }
