package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sampleResult() *vision.AnalysisResult {
	return &vision.AnalysisResult{
		Age:              vision.Prediction{Label: "21-30", Confidence: 0.4},
		Gender:           vision.Prediction{Label: "Female", Confidence: 0.7},
		Expression:       vision.Prediction{Label: "Happy", Confidence: 0.5},
		ProcessingTimeMs: 8,
		FaceCoordinates:  vision.FaceBoundingBox{X: 10, Y: 10, Width: 20, Height: 20},
		FacesDetected:    1,
	}
}

type fakeAnalyzer struct {
	mu   sync.Mutex
	req  analysis.Request
	out  *analysis.Outcome
	err  error
	wait bool
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*analysis.Outcome, error) {
	a.mu.Lock()
	a.req = req
	a.mu.Unlock()
	if a.wait {
		<-ctx.Done()
		return nil, &vision.AnalysisFailedError{Stage: vision.StageStart, Err: errors.Join(vision.ErrTimeout, ctx.Err())}
	}
	return a.out, a.err
}

type fakeHub struct {
	mu     sync.Mutex
	events []*dto.WSEvent
}

func (h *fakeHub) BroadcastEvent(ev *dto.WSEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

type fakeStore struct {
	analyses map[uuid.UUID]*models.Analysis
	similar  []models.SimilarAnalysis
	stats    *models.AnalysisStats
	err      error

	lastLimit, lastOffset int
}

func newFakeStore(as ...*models.Analysis) *fakeStore {
	s := &fakeStore{analyses: map[uuid.UUID]*models.Analysis{}}
	for _, a := range as {
		s.analyses[a.ID] = a
	}
	return s
}

func (s *fakeStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.Analysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.analyses[id], nil
}

func (s *fakeStore) ListAnalyses(_ context.Context, limit, offset int) ([]models.Analysis, int, error) {
	s.lastLimit, s.lastOffset = limit, offset
	if s.err != nil {
		return nil, 0, s.err
	}
	var out []models.Analysis
	for _, a := range s.analyses {
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (s *fakeStore) DeleteAnalysis(_ context.Context, id uuid.UUID) (string, error) {
	a, ok := s.analyses[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	delete(s.analyses, id)
	return a.SnapshotKey, nil
}

func (s *fakeStore) ClearAnalyses(context.Context) ([]string, int, error) {
	var keys []string
	n := len(s.analyses)
	for id, a := range s.analyses {
		if a.SnapshotKey != "" {
			keys = append(keys, a.SnapshotKey)
		}
		delete(s.analyses, id)
	}
	return keys, n, nil
}

func (s *fakeStore) SimilarAnalyses(_ context.Context, _ uuid.UUID, limit int) ([]models.SimilarAnalysis, error) {
	s.lastLimit = limit
	return s.similar, nil
}

func (s *fakeStore) Stats(context.Context) (*models.AnalysisStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

type fakeObjects struct {
	objects map[string][]byte
	deleted []string
	frames  map[uuid.UUID]string
	err     error
}

func (o *fakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (o *fakeObjects) DeleteObjects(_ context.Context, keys []string) error {
	o.deleted = append(o.deleted, keys...)
	return nil
}

func (o *fakeObjects) PutFrame(_ context.Context, id uuid.UUID, _ []byte, contentType string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	if o.frames == nil {
		o.frames = map[uuid.UUID]string{}
	}
	key := storage.FrameKey(id, contentType)
	o.frames[id] = key
	return key, nil
}

type fakePublisher struct {
	tasks []*models.AnalyzeTask
	err   error
}

func (p *fakePublisher) PublishTask(_ context.Context, task *models.AnalyzeTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// multipartRequest builds a POST with an `image` part and extra form fields.
func multipartRequest(t *testing.T, url string, img []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if img != nil {
		part, err := w.CreateFormFile("image", "face.png")
		require.NoError(t, err)
		_, err = part.Write(img)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func analyzeRouter(svc Analyzer, hub Broadcaster, timeout time.Duration, maxUpload int64) *gin.Engine {
	r := gin.New()
	h := NewAnalyzeHandler(svc, hub, timeout, maxUpload)
	r.POST("/v1/analyze", h.Analyze)
	r.GET("/v1/labels", h.Labels)
	return r
}

func TestAnalyze(t *testing.T) {
	t.Run("unsaved result", func(t *testing.T) {
		svc := &fakeAnalyzer{out: &analysis.Outcome{Result: sampleResult()}}
		hub := &fakeHub{}
		faces := `[{"x":1,"y":2,"width":30,"height":40}]`

		w := serve(analyzeRouter(svc, hub, 0, 0),
			multipartRequest(t, "/v1/analyze?save=false", pngData(t), map[string]string{"faces": faces, "source": "cam-1"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[dto.AnalysisResponse](t, w)
		assert.Nil(t, resp.ID)
		assert.False(t, resp.Saved)
		assert.Equal(t, "21-30", resp.Age.Label)
		assert.Equal(t, "cam-1", resp.Source)

		assert.False(t, svc.req.Save)
		assert.Equal(t, "cam-1", svc.req.Source)
		require.Len(t, svc.req.Faces, 1)
		assert.Equal(t, 30.0, svc.req.Faces[0].Width)
		assert.Empty(t, hub.events, "unsaved analyses are not broadcast")
	})

	t.Run("saved result is broadcast", func(t *testing.T) {
		id := uuid.New()
		svc := &fakeAnalyzer{out: &analysis.Outcome{
			ID: id, Result: sampleResult(), SnapshotKey: "snapshots/" + id.String() + ".jpg",
			Saved: true, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}}
		hub := &fakeHub{}

		w := serve(analyzeRouter(svc, hub, 0, 0), multipartRequest(t, "/v1/analyze", pngData(t), nil))
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.AnalysisResponse](t, w)
		require.NotNil(t, resp.ID)
		assert.Equal(t, id, *resp.ID)
		assert.Equal(t, dto.SnapshotURL(id), resp.SnapshotURL)
		assert.Equal(t, "face.png", resp.Source, "source defaults to the file name")
		assert.True(t, svc.req.Save)

		require.Len(t, hub.events, 1)
		assert.Equal(t, dto.WSAnalysisCompleted, hub.events[0].Type)
	})
}

func TestAnalyzeBadRequests(t *testing.T) {
	svc := &fakeAnalyzer{out: &analysis.Outcome{Result: sampleResult()}}

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name:   "missing image",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "/v1/analyze", nil, nil) },
			status: http.StatusBadRequest,
		},
		{
			name: "not an image",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/analyze", []byte("hello world, plain text"), nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "invalid faces",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/analyze", pngData(t), map[string]string{"faces": "{"})
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid save flag",
			req:    func(t *testing.T) *http.Request { return multipartRequest(t, "/v1/analyze?save=maybe", pngData(t), nil) },
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(analyzeRouter(svc, nil, 0, 0), tt.req(t))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	t.Run("upload too large", func(t *testing.T) {
		w := serve(analyzeRouter(svc, nil, 0, 64), multipartRequest(t, "/v1/analyze", pngData(t), nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestAnalyzeErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"decode", &vision.AnalysisFailedError{Stage: vision.StageStart, Err: vision.ErrImageDecode}, http.StatusBadRequest},
		{"bounds", &vision.AnalysisFailedError{Stage: vision.StageStart, Err: vision.ErrInvalidBounds}, http.StatusBadRequest},
		{"no face", &vision.AnalysisFailedError{Stage: vision.StageStart, Err: vision.ErrNoFaceDetected}, http.StatusUnprocessableEntity},
		{"timeout", &vision.AnalysisFailedError{Domain: vision.DomainAge, Stage: vision.StageTensorized, Err: vision.ErrTimeout}, http.StatusGatewayTimeout},
		{"cancelled", &vision.AnalysisFailedError{Stage: vision.StageStart, Err: vision.ErrCancelled}, statusClientClosedRequest},
		{"model", &vision.AnalysisFailedError{Domain: vision.DomainGender, Stage: vision.StageTensorized, Err: vision.ErrModelNotLoaded}, http.StatusInternalServerError},
		{"detector", analysis.ErrDetection, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(analyzeRouter(&fakeAnalyzer{err: tt.err}, nil, 0, 0), multipartRequest(t, "/v1/analyze", pngData(t), nil))
			assert.Equal(t, tt.status, w.Code)

			body := decode[map[string]any](t, w)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}

	t.Run("body names failing domain", func(t *testing.T) {
		err := &vision.AnalysisFailedError{Domain: vision.DomainGender, Stage: vision.StageTensorized, Err: vision.ErrModelNotLoaded}
		w := serve(analyzeRouter(&fakeAnalyzer{err: err}, nil, 0, 0), multipartRequest(t, "/v1/analyze", pngData(t), nil))
		body := decode[map[string]any](t, w)
		assert.Equal(t, "gender", body["domain"])
		assert.Equal(t, "tensorized", body["stage"])
	})

	t.Run("request timeout", func(t *testing.T) {
		w := serve(analyzeRouter(&fakeAnalyzer{wait: true}, nil, 10*time.Millisecond, 0), multipartRequest(t, "/v1/analyze", pngData(t), nil))
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}

func TestLabels(t *testing.T) {
	w := serve(analyzeRouter(&fakeAnalyzer{}, nil, 0, 0), httptest.NewRequest(http.MethodGet, "/v1/labels", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[dto.LabelsResponse](t, w)
	assert.Len(t, resp.Domains, 3)
	assert.Equal(t, vision.DomainGender.Labels(), resp.Domains["gender"])
}

func historyRouter(store HistoryStore, objects SnapshotReader, hub Broadcaster) *gin.Engine {
	r := gin.New()
	h := NewHistoryHandler(store, objects, hub, 50, 100)
	r.GET("/v1/history", h.List)
	r.DELETE("/v1/history", h.Clear)
	r.GET("/v1/history/:id", h.Get)
	r.DELETE("/v1/history/:id", h.Delete)
	r.GET("/v1/history/:id/similar", h.Similar)
	r.GET("/v1/history/:id/snapshot", h.Snapshot)
	r.GET("/v1/stats", h.Stats)
	return r
}

func entry(snapshot bool) *models.Analysis {
	a := &models.Analysis{ID: uuid.New(), Source: "upload", Result: *sampleResult(), CreatedAt: time.Now()}
	if snapshot {
		a.SnapshotKey = storage.SnapshotKey(a.ID)
	}
	return a
}

func TestHistoryList(t *testing.T) {
	store := newFakeStore(entry(true), entry(false))
	r := historyRouter(store, nil, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.HistoryListResponse](t, w)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Analyses, 2)
	assert.Equal(t, 50, store.lastLimit)

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/history?limit=1000&offset=5", nil))
	assert.Equal(t, 100, store.lastLimit)
	assert.Equal(t, 5, store.lastOffset)

	store.err = errors.New("db down")
	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryGet(t *testing.T) {
	a := entry(true)
	r := historyRouter(newFakeStore(a), nil, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+a.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.AnalysisResponse](t, w)
	assert.Equal(t, a.ID, *resp.ID)
	assert.True(t, resp.Saved)
	assert.Equal(t, dto.SnapshotURL(a.ID), resp.SnapshotURL)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryDelete(t *testing.T) {
	a := entry(true)
	objects := &fakeObjects{}
	hub := &fakeHub{}
	r := historyRouter(newFakeStore(a), objects, hub)

	w := serve(r, httptest.NewRequest(http.MethodDelete, "/v1/history/"+a.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{a.SnapshotKey}, objects.deleted)
	require.Len(t, hub.events, 1)
	assert.Equal(t, dto.WSHistoryDeleted, hub.events[0].Type)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/v1/history/"+a.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryClear(t *testing.T) {
	withSnap, without := entry(true), entry(false)
	objects := &fakeObjects{}
	hub := &fakeHub{}
	store := newFakeStore(withSnap, without)
	r := historyRouter(store, objects, hub)

	w := serve(r, httptest.NewRequest(http.MethodDelete, "/v1/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[dto.ClearResponse](t, w).Deleted)
	assert.Equal(t, []string{withSnap.SnapshotKey}, objects.deleted)
	assert.Empty(t, store.analyses)
	require.Len(t, hub.events, 1)
	assert.Equal(t, dto.WSHistoryCleared, hub.events[0].Type)
}

func TestHistorySnapshot(t *testing.T) {
	a, bare := entry(true), entry(false)
	objects := &fakeObjects{objects: map[string][]byte{a.SnapshotKey: []byte("jpeg")}}
	r := historyRouter(newFakeStore(a, bare), objects, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+a.ID.String()+"/snapshot", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+bare.ID.String()+"/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	delete(objects.objects, a.SnapshotKey)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+a.ID.String()+"/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistorySimilar(t *testing.T) {
	a, other := entry(false), entry(false)
	store := newFakeStore(a)
	store.similar = []models.SimilarAnalysis{{Analysis: *other, Similarity: 0.93}}
	r := historyRouter(store, nil, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+a.ID.String()+"/similar", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.SimilarResponse](t, w)
	assert.Equal(t, a.ID, resp.ID)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, other.ID, *resp.Matches[0].ID)
	assert.InDelta(t, 0.93, resp.Matches[0].Similarity, 1e-6)
	assert.Equal(t, 5, store.lastLimit)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/history/"+uuid.NewString()+"/similar", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	store := newFakeStore()
	store.stats = &models.AnalysisStats{
		Total:           4,
		AvgProcessingMs: 11.5,
		LabelCounts:     map[string]map[string]int64{"gender": {"Female": 3, "Male": 1}},
	}
	r := historyRouter(store, nil, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.StatsResponse](t, w)
	assert.Equal(t, int64(4), resp.Total)
	assert.Equal(t, int64(3), resp.LabelCounts["gender"]["Female"])

	store.err = errors.New("db down")
	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSubmitTask(t *testing.T) {
	newRouter := func(frames FrameStore, pub TaskPublisher) *gin.Engine {
		r := gin.New()
		r.POST("/v1/tasks", NewTaskHandler(frames, pub, 0).Submit)
		return r
	}

	t.Run("queued", func(t *testing.T) {
		frames := &fakeObjects{}
		pub := &fakePublisher{}
		w := serve(newRouter(frames, pub), multipartRequest(t, "/v1/tasks?save=false", pngData(t), map[string]string{"source": "cam"}))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		resp := decode[dto.TaskResponse](t, w)
		assert.Equal(t, "queued", resp.Status)
		assert.Equal(t, frames.frames[resp.TaskID], resp.FrameKey)
		assert.Contains(t, resp.FrameKey, ".png")

		require.Len(t, pub.tasks, 1)
		task := pub.tasks[0]
		assert.Equal(t, resp.TaskID, task.TaskID)
		assert.Equal(t, "cam", task.Source)
		assert.False(t, task.Save)
	})

	t.Run("storage failure", func(t *testing.T) {
		w := serve(newRouter(&fakeObjects{err: errors.New("minio down")}, &fakePublisher{}), multipartRequest(t, "/v1/tasks", pngData(t), nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("queue failure", func(t *testing.T) {
		w := serve(newRouter(&fakeObjects{}, &fakePublisher{err: errors.New("nats down")}), multipartRequest(t, "/v1/tasks", pngData(t), nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	r := gin.New()
	r.GET("/healthz", NewSystemHandler(nil).Healthz)
	r.GET("/readyz", NewSystemHandler(map[string]Check{"postgres": ok, "nats": ok}).Readyz)
	r.GET("/readyz-down", NewSystemHandler(map[string]Check{"postgres": ok, "minio": down}).Readyz)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode[map[string]any](t, w)["status"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/readyz-down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["minio"])
}
