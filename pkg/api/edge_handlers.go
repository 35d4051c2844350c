package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/temporal"
)

type createEdgeRequest struct {
	From              string                 `json:"from" binding:"required"`
	To                string                 `json:"to" binding:"required"`
	Type              string                 `json:"type" binding:"required"`
	ValidAt           time.Time              `json:"valid_at" binding:"required"`
	InvalidAt         *time.Time             `json:"invalid_at"`
	Confidence        *float64               `json:"confidence"`
	ContextConfidence *float64               `json:"context_confidence"`
	Rationale         string                 `json:"rationale"`
	Attributes        map[string]interface{} `json:"attributes"`
	// ResolveStrategy, when set, sweeps contradictions after the insert:
	// newest_wins, merge, or split_timeline. "auto" lets the resolver pick.
	ResolveStrategy string `json:"resolve_strategy"`
}

type createEdgeResponse struct {
	Edge     *models.Edge       `json:"edge"`
	Outcomes []temporal.Outcome `json:"outcomes,omitempty"`
	Resolved bool               `json:"resolved"`
}

func (s *Server) handleCreateEdge(c *gin.Context) {
	var req createEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	edge, err := s.deps.Store.CreateEdge(c.Request.Context(), &models.Edge{
		From:              req.From,
		To:                req.To,
		Type:              req.Type,
		ValidAt:           req.ValidAt,
		InvalidAt:         req.InvalidAt,
		Confidence:        req.Confidence,
		ContextConfidence: req.ContextConfidence,
		Rationale:         req.Rationale,
		Attributes:        req.Attributes,
	})
	if err != nil {
		s.serverError(c, err)
		return
	}

	resp := createEdgeResponse{Edge: edge, Resolved: true}
	if req.ResolveStrategy != "" && s.deps.Resolver != nil {
		strategy := req.ResolveStrategy
		if strategy == "auto" {
			strategy = ""
		}
		outcomes, resolved, err := s.deps.Resolver.ResolveAll(c.Request.Context(), edge, strategy, nil)
		if err != nil {
			s.serverError(c, err)
			return
		}
		resp.Outcomes = outcomes
		resp.Resolved = resolved
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetEdge(c *gin.Context) {
	edge, err := s.deps.Store.GetEdge(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "edge not found"})
			return
		}
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

type invalidateEdgeRequest struct {
	InvalidAt     time.Time `json:"invalid_at" binding:"required"`
	Reason        string    `json:"reason"`
	InvalidatedBy string    `json:"invalidated_by"`
}

func (s *Server) handleInvalidateEdge(c *gin.Context) {
	var req invalidateEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	edge, err := s.deps.Store.InvalidateEdge(c.Request.Context(),
		c.Param("key"), req.InvalidAt, req.Reason, req.InvalidatedBy)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "edge not found"})
			return
		}
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

type resolveEdgeRequest struct {
	Strategy    string   `json:"strategy"`
	ExcludeKeys []string `json:"exclude_keys"`
}

func (s *Server) handleResolveEdge(c *gin.Context) {
	var req resolveEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	edge, err := s.deps.Store.GetEdge(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "edge not found"})
			return
		}
		s.serverError(c, err)
		return
	}
	outcomes, resolved, err := s.deps.Resolver.ResolveAll(c.Request.Context(),
		edge, req.Strategy, req.ExcludeKeys)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes, "resolved": resolved})
}

type enrichRequest struct {
	EdgeKeys []string `json:"edge_keys"`
	EdgeType string   `json:"edge_type"`
}

func (s *Server) handleEnrich(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.EdgeKeys) == 0 && req.EdgeType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "edge_keys or edge_type is required"})
		return
	}

	var report *temporal.EnrichReport
	var err error
	if len(req.EdgeKeys) > 0 {
		report, err = s.deps.Enricher.EnrichByKeys(c.Request.Context(), req.EdgeKeys)
	} else {
		report, err = s.deps.Enricher.EnrichByType(c.Request.Context(), req.EdgeType)
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
