package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reviso/reviso/pkg/store"
)

// abortStoreError maps store-layer errors to HTTP responses. Transient
// failures become 503 so clients retry instead of surfacing an error.
func (s *Server) abortStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case store.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store temporarily unavailable"})
	default:
		s.logger.Error("Unexpected store error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
