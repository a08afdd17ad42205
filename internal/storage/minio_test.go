package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattr/internal/config"
)

func TestObjectKeys(t *testing.T) {
	id := uuid.MustParse("6f1c1c8e-8d59-4f0e-9d1a-3c3f1f2b9a10")

	assert.Equal(t, "snapshots/6f1c1c8e-8d59-4f0e-9d1a-3c3f1f2b9a10.jpg", SnapshotKey(id))
	assert.Equal(t, "frames/6f1c1c8e-8d59-4f0e-9d1a-3c3f1f2b9a10.png", FrameKey(id, "image/png"))
	assert.Equal(t, "frames/6f1c1c8e-8d59-4f0e-9d1a-3c3f1f2b9a10.webp", FrameKey(id, "image/webp"))
	assert.Equal(t, "frames/6f1c1c8e-8d59-4f0e-9d1a-3c3f1f2b9a10", FrameKey(id, "application/octet-stream"))
}

func TestNewMinIOStore(t *testing.T) {
	store, err := NewMinIOStore(config.MinIOConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "faceattr",
	})
	require.NoError(t, err)
	assert.Equal(t, "faceattr", store.bucket)

	_, err = NewMinIOStore(config.MinIOConfig{Endpoint: "http://bad endpoint"})
	assert.Error(t, err)
}
