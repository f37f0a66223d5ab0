package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/ingest"
)

// BatchIngestRequest is the request body for POST .../events/batch.
type BatchIngestRequest struct {
	Events []json.RawMessage `json:"events" binding:"required"`
}

// BatchIngestResponse reports per-event outcomes in input order.
type BatchIngestResponse struct {
	Results []ingest.Result `json:"results"`
}

// ingestEventHandler handles POST .../events. The body is one event
// envelope; the write is create-only, so a redelivered event settles as
// idempotent with 200 while a fresh write returns 201.
func (s *Server) ingestEventHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}
	if !s.ownedByRoute(c, raw) {
		return
	}

	result := s.ingest.Ingest(c.Request.Context(), raw)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	if result.Idempotent {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ingestBatchHandler handles POST .../events/batch. Events that fail
// validation are reported per-entry; the valid remainder is still
// written, so the response is always 200 when the body parses.
func (s *Server) ingestBatchHandler(c *gin.Context) {
	var req BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raws := make([][]byte, 0, len(req.Events))
	for _, e := range req.Events {
		if !s.ownedByRoute(c, e) {
			return
		}
		raws = append(raws, e)
	}

	results := s.ingest.IngestBatch(c.Request.Context(), raws)
	c.JSON(http.StatusOK, BatchIngestResponse{Results: results})
}

// getEventHandler handles GET .../events/:event_id.
func (s *Server) getEventHandler(c *gin.Context) {
	path, err := (&event.Envelope{
		UserID:    c.Param("user_id"),
		LibraryID: c.Param("library_id"),
		EventID:   c.Param("event_id"),
	}).Path()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := s.store.Read(c.Request.Context(), path)
	if err != nil {
		s.abortStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// ownedByRoute rejects envelopes whose user/library differs from the
// route. Writes the 400 response itself and returns false on mismatch.
func (s *Server) ownedByRoute(c *gin.Context, raw []byte) bool {
	var env struct {
		UserID    string `json:"user_id"`
		LibraryID string `json:"library_id"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event body"})
		return false
	}
	if env.UserID != c.Param("user_id") || env.LibraryID != c.Param("library_id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event user/library does not match the request path"})
		return false
	}
	return true
}
