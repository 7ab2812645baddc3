package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yusuf-zafar/collaborative-document-editor/backend/internal/store"
)

// Notifier 文档结构变化后的实时侧通知（ws.Manager 实现）。
type Notifier interface {
	DocumentCreated(ctx context.Context, docID uint64)
	DocumentUpdated(ctx context.Context, docID uint64)
}

type Handler struct {
	docs     *store.DocumentStore
	chats    *store.ChatStore
	notifier Notifier // 可为 nil
}

func NewHandler(docs *store.DocumentStore, chats *store.ChatStore, notifier Notifier) *Handler {
	return &Handler{docs: docs, chats: chats, notifier: notifier}
}

type createDocumentReq struct {
	Title string `json:"title" binding:"required"`
}

type updateContentReq struct {
	Content string  `json:"content"`
	Version *uint64 `json:"version"` // 缺省跳过版本校验（last-write-wins）
}

type updateTitleReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.docs.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) CreateDocument(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user context missing"})
		return
	}
	var req createDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	doc, err := h.docs.CreateDocument(c.Request.Context(), userID, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create document"})
		return
	}
	if h.notifier != nil {
		h.notifier.DocumentCreated(c.Request.Context(), doc.ID)
	}
	c.JSON(http.StatusOK, doc)
}

// GetDocument 返回缓存或新鲜的文档快照。
func (h *Handler) GetDocument(c *gin.Context) {
	docID, ok := pathID(c, "documentID")
	if !ok {
		return
	}
	doc, err := h.docs.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateContent 带乐观版本校验的内容更新。
// 版本不匹配返回 409，携带两个版本号，客户端重新拉取后再试。
func (h *Handler) UpdateContent(c *gin.Context) {
	docID, ok := pathID(c, "documentID")
	if !ok {
		return
	}
	var req updateContentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	newVersion, err := h.docs.UpdateContent(c.Request.Context(), docID, req.Content, req.Version)
	if err != nil {
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":          "version conflict",
				"currentVersion": conflict.CurrentVersion,
				"clientVersion":  conflict.ClientVersion,
			})
			return
		}
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}
	if h.notifier != nil {
		h.notifier.DocumentUpdated(c.Request.Context(), docID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": newVersion})
}

// UpdateTitle 无条件 last-write。
func (h *Handler) UpdateTitle(c *gin.Context) {
	docID, ok := pathID(c, "documentID")
	if !ok {
		return
	}
	var req updateTitleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.docs.UpdateTitle(c.Request.Context(), docID, req.Title); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update title"})
		return
	}
	if h.notifier != nil {
		h.notifier.DocumentUpdated(c.Request.Context(), docID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ListMessages(c *gin.Context) {
	docID, ok := pathID(c, "documentID")
	if !ok {
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.chats.ListMessages(c.Request.Context(), docID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// DeleteMessage 只有作者能删自己的消息。
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID := c.GetUint64("userId")
	docID, ok := pathID(c, "documentID")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageID")
	if !ok {
		return
	}
	err := h.chats.DeleteMessage(c.Request.Context(), docID, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}
	if h.notifier != nil {
		h.notifier.DocumentUpdated(c.Request.Context(), docID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
