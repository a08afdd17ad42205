package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattr/internal/vision"
)

// upload is a parsed multipart analysis request.
type upload struct {
	data        []byte
	contentType string
	faces       []vision.FaceBoundingBox
	source      string
	save        bool
}

type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func badUpload(format string, args ...any) *uploadError {
	return &uploadError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// readUpload parses the `image` file, the optional `faces` JSON array and
// `source` form fields, and the `save` query parameter (default true).
func readUpload(c *gin.Context, maxBytes int64) (*upload, error) {
	if maxBytes > 0 {
		if c.Request.ContentLength > maxBytes {
			return nil, &uploadError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("image exceeds %d bytes", maxBytes)}
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &uploadError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("image exceeds %d bytes", maxBytes)}
		}
		return nil, badUpload("image file required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, badUpload("read image failed")
	}
	if len(data) == 0 {
		return nil, badUpload("image is empty")
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, badUpload("unsupported content type %s", contentType)
	}

	u := &upload{
		data:        data,
		contentType: contentType,
		source:      c.PostForm("source"),
		save:        true,
	}
	if u.source == "" {
		u.source = header.Filename
	}

	if raw := c.PostForm("faces"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &u.faces); err != nil {
			return nil, badUpload("invalid faces: %v", err)
		}
	}

	if raw := c.Query("save"); raw != "" {
		save, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, badUpload("invalid save flag %q", raw)
		}
		u.save = save
	}
	return u, nil
}

func respondUploadError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	var ue *uploadError
	if errors.As(err, &ue) {
		status = ue.status
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
