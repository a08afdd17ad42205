package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/pkg/dto"
)

type HistoryStore interface {
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, limit, offset int) ([]models.Analysis, int, error)
	DeleteAnalysis(ctx context.Context, id uuid.UUID) (string, error)
	ClearAnalyses(ctx context.Context) ([]string, int, error)
	SimilarAnalyses(ctx context.Context, id uuid.UUID, limit int) ([]models.SimilarAnalysis, error)
	Stats(ctx context.Context) (*models.AnalysisStats, error)
}

// SnapshotReader reads and drops snapshot objects.
type SnapshotReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

type HistoryHandler struct {
	store        HistoryStore
	objects      SnapshotReader
	hub          Broadcaster
	defaultLimit int
	maxLimit     int
}

func NewHistoryHandler(store HistoryStore, objects SnapshotReader, hub Broadcaster, defaultLimit, maxLimit int) *HistoryHandler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &HistoryHandler{store: store, objects: objects, hub: hub, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

func (h *HistoryHandler) limit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > h.maxLimit {
		return h.maxLimit
	}
	return limit
}

func (h *HistoryHandler) List(c *gin.Context) {
	limit := h.limit(c, h.defaultLimit)
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	analyses, total, err := h.store.ListAnalyses(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AnalysisResponse, 0, len(analyses))
	for i := range analyses {
		resp = append(resp, dto.FromAnalysis(&analyses[i]))
	}
	c.JSON(http.StatusOK, dto.HistoryListResponse{Analyses: resp, Total: total, Limit: limit, Offset: offset})
}

// lookup parses :id and loads the entry, writing the error response itself.
func (h *HistoryHandler) lookup(c *gin.Context) (*models.Analysis, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analysis id"})
		return nil, false
	}
	a, err := h.store.GetAnalysis(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return nil, false
	}
	return a, true
}

func (h *HistoryHandler) Get(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromAnalysis(a))
}

func (h *HistoryHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analysis id"})
		return
	}

	key, err := h.store.DeleteAnalysis(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if key != "" {
		h.dropSnapshots(c.Request.Context(), []string{key})
	}
	if h.hub != nil {
		h.hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSHistoryDeleted, ID: &id})
	}
	c.Status(http.StatusNoContent)
}

// Clear handles DELETE /v1/history.
func (h *HistoryHandler) Clear(c *gin.Context) {
	keys, deleted, err := h.store.ClearAnalyses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.dropSnapshots(c.Request.Context(), keys)
	if h.hub != nil {
		h.hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSHistoryCleared})
	}
	c.JSON(http.StatusOK, dto.ClearResponse{Deleted: deleted})
}

// Snapshot proxies the face snapshot image from MinIO.
func (h *HistoryHandler) Snapshot(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}
	if a.SnapshotKey == "" || h.objects == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	data, err := h.objects.GetObject(c.Request.Context(), a.SnapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Similar ranks other entries by how close their predicted attributes are.
func (h *HistoryHandler) Similar(c *gin.Context) {
	a, ok := h.lookup(c)
	if !ok {
		return
	}

	matches, err := h.store.SimilarAnalyses(c.Request.Context(), a.ID, h.limit(c, 5))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SimilarResponse{ID: a.ID, Matches: make([]dto.SimilarAnalysisResponse, 0, len(matches))}
	for i := range matches {
		resp.Matches = append(resp.Matches, dto.SimilarAnalysisResponse{
			AnalysisResponse: dto.FromAnalysis(&matches[i].Analysis),
			Similarity:       matches[i].Similarity,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HistoryHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromStats(stats))
}

func (h *HistoryHandler) dropSnapshots(ctx context.Context, keys []string) {
	if h.objects == nil || len(keys) == 0 {
		return
	}
	if err := h.objects.DeleteObjects(ctx, keys); err != nil {
		slog.Warn("delete snapshots", "count", len(keys), "error", err)
	}
}
