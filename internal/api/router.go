package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceattr/internal/api/handlers"
	"github.com/your-org/faceattr/internal/api/ws"
	"github.com/your-org/faceattr/internal/auth"
)

// RouterConfig wires the API. History, Snapshots, Frames and Tasks are
// optional; their routes are not registered when nil. An empty APIKeys list
// disables auth.
type RouterConfig struct {
	APIKeys   []string
	Analyzer  handlers.Analyzer
	History   handlers.HistoryStore
	Snapshots handlers.SnapshotReader
	Frames    handlers.FrameStore
	Tasks     handlers.TaskPublisher
	Hub       *ws.Hub
	Checks    map[string]handlers.Check

	RequestTimeout time.Duration
	MaxUploadBytes int64
	DefaultLimit   int
	MaxLimit       int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(auth.NewKeys(cfg.APIKeys...)))

	var hub handlers.Broadcaster
	if cfg.Hub != nil {
		hub = cfg.Hub
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	analyzeH := handlers.NewAnalyzeHandler(cfg.Analyzer, hub, cfg.RequestTimeout, cfg.MaxUploadBytes)
	v1.POST("/analyze", analyzeH.Analyze)
	v1.GET("/labels", analyzeH.Labels)

	if cfg.History != nil {
		historyH := handlers.NewHistoryHandler(cfg.History, cfg.Snapshots, hub, cfg.DefaultLimit, cfg.MaxLimit)
		v1.GET("/history", historyH.List)
		v1.DELETE("/history", historyH.Clear)
		v1.GET("/history/:id", historyH.Get)
		v1.DELETE("/history/:id", historyH.Delete)
		v1.GET("/history/:id/similar", historyH.Similar)
		v1.GET("/history/:id/snapshot", historyH.Snapshot)
		v1.GET("/stats", historyH.Stats)
	}

	if cfg.Frames != nil && cfg.Tasks != nil {
		taskH := handlers.NewTaskHandler(cfg.Frames, cfg.Tasks, cfg.MaxUploadBytes)
		v1.POST("/tasks", taskH.Submit)
	}

	return r
}
