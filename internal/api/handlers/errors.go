package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattr/internal/vision"
)

// statusClientClosedRequest is nginx's non-standard code for a client that
// went away before the response was ready.
const statusClientClosedRequest = 499

// analysisStatus maps an analysis error to its HTTP status.
func analysisStatus(err error) int {
	switch {
	case errors.Is(err, vision.ErrImageDecode), errors.Is(err, vision.ErrInvalidBounds):
		return http.StatusBadRequest
	case errors.Is(err, vision.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vision.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, vision.ErrCancelled), errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondAnalysisError writes the error body of a failed analysis, naming the
// stage and domain when the analyzer reported them.
func respondAnalysisError(c *gin.Context, err error) {
	status := analysisStatus(err)
	body := gin.H{"error": err.Error()}

	var afe *vision.AnalysisFailedError
	if errors.As(err, &afe) {
		body["stage"] = afe.Stage
		if afe.Domain != "" {
			body["domain"] = afe.Domain
		}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("analysis failed", "error", err)
	}
	c.JSON(status, body)
}
