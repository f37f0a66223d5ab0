package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/store"
	"github.com/reviso/reviso/pkg/views"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

var knownCollections = map[string]bool{
	views.CollectionCardSchedule:         true,
	views.CollectionCardPerf:             true,
	views.CollectionQuestionPerf:         true,
	views.CollectionRelationshipSchedule: true,
	views.CollectionRelationshipPerf:     true,
	views.CollectionMisconceptionEdge:    true,
	views.CollectionConceptCertification: true,
	views.CollectionSession:              true,
	views.CollectionCardAnnotation:       true,
}

// getViewHandler handles GET .../views/:collection/:entity_id.
func (s *Server) getViewHandler(c *gin.Context) {
	collection := c.Param("collection")
	if !knownCollections[collection] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view collection: " + collection})
		return
	}

	path := views.Path(c.Param("user_id"), c.Param("library_id"), collection, c.Param("entity_id"))
	doc, err := s.store.Read(c.Request.Context(), path)
	if err != nil {
		s.abortStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// listViewsHandler handles GET .../views/:collection. Results are
// ordered by updated_at; ?after= and ?limit= page through them.
func (s *Server) listViewsHandler(c *gin.Context) {
	collection := c.Param("collection")
	if !knownCollections[collection] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view collection: " + collection})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	docs, err := s.store.Query(c.Request.Context(), store.Query{
		Collection: views.Collection(c.Param("user_id"), c.Param("library_id"), collection),
		OrderField: "updated_at",
		After:      c.Query("after"),
		Limit:      limit,
	})
	if err != nil {
		s.abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// dueCardsHandler handles GET .../due: the card schedules whose due_at
// is at or before the horizon (?at=, default now), earliest first.
// Timestamps are fixed-width UTC so the scan order is chronological.
func (s *Server) dueCardsHandler(c *gin.Context) {
	horizon := event.FormatTime(time.Now().UTC())
	if v := c.Query("at"); v != "" {
		t, err := event.ParseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid at: " + err.Error()})
			return
		}
		horizon = event.FormatTime(t)
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	docs, err := s.store.Query(c.Request.Context(), store.Query{
		Collection: views.Collection(c.Param("user_id"), c.Param("library_id"), views.CollectionCardSchedule),
		OrderField: "due_at",
		Limit:      limit,
	})
	if err != nil {
		s.abortStoreError(c, err)
		return
	}

	// The scan is ascending by due_at; cut at the horizon.
	due := docs[:0:0]
	for _, doc := range docs {
		if store.OrderValue(doc.Data, "due_at") > horizon {
			break
		}
		due = append(due, doc)
	}
	c.JSON(http.StatusOK, gin.H{"documents": due, "count": len(due), "at": horizon})
}

// getSessionSummaryHandler handles GET .../session_summaries/:session_id.
func (s *Server) getSessionSummaryHandler(c *gin.Context) {
	path := views.SummaryPath(c.Param("user_id"), c.Param("library_id"), c.Param("session_id"))
	doc, err := s.store.Read(c.Request.Context(), path)
	if err != nil {
		s.abortStoreError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// replayHandler handles POST .../replay: re-projects the library's full
// event log. Safe at any time; the per-view cursor keeps already
// applied events as no-ops.
func (s *Server) replayHandler(c *gin.Context) {
	stats, err := s.projector.ProjectLibrary(c.Request.Context(), c.Param("user_id"), c.Param("library_id"))
	if err != nil {
		s.abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseLimit(c *gin.Context) (int, bool) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxListLimit)})
			return 0, false
		}
		limit = n
	}
	return limit, true
}
