package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/pkg/dto"
)

type FrameStore interface {
	PutFrame(ctx context.Context, id uuid.UUID, data []byte, contentType string) (string, error)
}

type TaskPublisher interface {
	PublishTask(ctx context.Context, task *models.AnalyzeTask) error
}

type TaskHandler struct {
	frames    FrameStore
	producer  TaskPublisher
	maxUpload int64
}

func NewTaskHandler(frames FrameStore, producer TaskPublisher, maxUpload int64) *TaskHandler {
	return &TaskHandler{frames: frames, producer: producer, maxUpload: maxUpload}
}

// Submit stores the uploaded frame and queues it for a worker.
func (h *TaskHandler) Submit(c *gin.Context) {
	u, err := readUpload(c, h.maxUpload)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	ctx := c.Request.Context()
	taskID := uuid.New()

	key, err := h.frames.PutFrame(ctx, taskID, u.data, u.contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store frame failed"})
		return
	}

	task := &models.AnalyzeTask{
		TaskID:      taskID,
		FrameKey:    key,
		Source:      u.source,
		Faces:       u.faces,
		Save:        u.save,
		SubmittedAt: time.Now().UTC(),
	}
	if err := h.producer.PublishTask(ctx, task); err != nil {
		slog.Error("publish task", "task_id", taskID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, dto.TaskResponse{TaskID: taskID, FrameKey: key, Status: "queued"})
}
