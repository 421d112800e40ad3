package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kumarabd/hostwatch/pkg/pipeline"
)

// deliverHandler normalizes and delivers the posted records
func (s *HTTP) deliverHandler(c *gin.Context) {
	kind, err := pipeline.ParseKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.Bounds.MaxBodyBytes)
	reader, err := getBodyReader(c.Request)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	defer reader.Close()

	var req pipeline.Request
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json request"})
		return
	}
	req.Kind = kind
	if raw := c.Query("retry"); raw != "" {
		retry, err := strconv.ParseBool(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid retry flag"})
			return
		}
		req.Retry = retry
	}

	sum, err := s.submit(c.Request.Context(), func(ctx context.Context) (pipeline.Summary, error) {
		return s.service.Deliver(ctx, req), nil
	})
	s.respond(c, sum, err)
}

// runHandler runs a query group and delivers its results
func (s *HTTP) runHandler(c *gin.Context) {
	group := c.Param("group")
	sum, err := s.submit(c.Request.Context(), func(ctx context.Context) (pipeline.Summary, error) {
		return s.service.RunGroup(ctx, group)
	})
	s.respond(c, sum, err)
}

// publishHandler publishes the agent configuration
func (s *HTTP) publishHandler(c *gin.Context) {
	sum, err := s.submit(c.Request.Context(), s.service.PublishConfig)
	s.respond(c, sum, err)
}

func (s *HTTP) respond(c *gin.Context, sum pipeline.Summary, err error) {
	switch {
	case errors.Is(err, errQueueFull):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !sum.Delivered():
		c.JSON(http.StatusBadGateway, sum)
	default:
		c.JSON(http.StatusOK, sum)
	}
}
