package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
)

// Analyzer runs one synchronous analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Outcome, error)
}

// Broadcaster pushes events to websocket clients.
type Broadcaster interface {
	BroadcastEvent(ev *dto.WSEvent)
}

type AnalyzeHandler struct {
	svc       Analyzer
	hub       Broadcaster
	timeout   time.Duration
	maxUpload int64
}

func NewAnalyzeHandler(svc Analyzer, hub Broadcaster, timeout time.Duration, maxUpload int64) *AnalyzeHandler {
	return &AnalyzeHandler{svc: svc, hub: hub, timeout: timeout, maxUpload: maxUpload}
}

// Analyze handles POST /v1/analyze.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	u, err := readUpload(c, h.maxUpload)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out, err := h.svc.Analyze(ctx, analysis.Request{
		Frame:  vision.FrameFromBytes(u.data),
		Faces:  u.faces,
		Source: u.source,
		Save:   u.save,
	})
	if err != nil {
		respondAnalysisError(c, err)
		return
	}

	var id *uuid.UUID
	if out.Saved {
		id = &out.ID
	}
	resp := dto.NewAnalysisResponse(out.Result, id, out.SnapshotKey, out.CreatedAt)
	resp.Source = u.source
	resp.Saved = out.Saved

	if out.Saved && h.hub != nil {
		h.hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSAnalysisCompleted, Source: u.source, Analysis: &resp})
	}
	c.JSON(http.StatusOK, resp)
}

// Labels handles GET /v1/labels.
func (h *AnalyzeHandler) Labels(c *gin.Context) {
	domains := make(map[string][]string, len(vision.Domains))
	for _, d := range vision.Domains {
		domains[string(d)] = d.Labels()
	}
	c.JSON(http.StatusOK, dto.LabelsResponse{Domains: domains})
}
