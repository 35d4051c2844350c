package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/search"
)

type hybridSearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	Collection     string   `json:"collection"`
	TopN           int      `json:"top_n"`
	BM25Weight     float64  `json:"bm25_weight"`
	SemanticWeight float64  `json:"semantic_weight"`
	GraphWeight    float64  `json:"graph_weight"`
	Tags           []string `json:"tags"`
	TagMatch       string   `json:"tag_match"`
	UseGraph       bool     `json:"use_graph"`
	MinScore       float64  `json:"min_score"`
}

func (s *Server) handleHybridSearch(c *gin.Context) {
	var req hybridSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.deps.Hybrid.Search(c.Request.Context(), req.Query, search.HybridOptions{
		Collection:     s.collectionOrDefault(req.Collection),
		TopN:           req.TopN,
		BM25Weight:     req.BM25Weight,
		SemanticWeight: req.SemanticWeight,
		GraphWeight:    req.GraphWeight,
		Tags:           req.Tags,
		TagMatch:       req.TagMatch,
		UseGraph:       req.UseGraph,
		MinScore:       req.MinScore,
	})
	s.respondResults(c, results, err)
}

type textSearchRequest struct {
	Query       string   `json:"query" binding:"required"`
	Collections []string `json:"collections"`
	Tags        []string `json:"tags"`
	MinScore    float64  `json:"min_score"`
	TopN        int      `json:"top_n"`
	Offset      int      `json:"offset"`
}

func (s *Server) handleTextSearch(c *gin.Context) {
	var req textSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.deps.BM25.Search(c.Request.Context(), req.Query, search.BM25Options{
		Collections: req.Collections,
		Tags:        req.Tags,
		MinScore:    req.MinScore,
		TopN:        req.TopN,
		Offset:      req.Offset,
	})
	s.respondResults(c, results, err)
}

type semanticSearchRequest struct {
	Query      string   `json:"query" binding:"required"`
	Collection string   `json:"collection"`
	TopN       int      `json:"top_n"`
	Tags       []string `json:"tags"`
	MinScore   float64  `json:"min_score"`
}

func (s *Server) handleSemanticSearch(c *gin.Context) {
	var req semanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.deps.Semantic.Search(c.Request.Context(),
		s.collectionOrDefault(req.Collection), req.Query, search.SemanticOptions{
			TopN:     req.TopN,
			Tags:     req.Tags,
			MinScore: req.MinScore,
		})
	s.respondResults(c, results, err)
}

func (s *Server) handleReadiness(c *gin.Context) {
	status, err := s.deps.Semantic.CheckReadiness(c.Request.Context(), c.Param("collection"))
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleRepair(c *gin.Context) {
	if err := s.deps.Semantic.Repair(c.Request.Context(), c.Param("collection")); err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": true})
}

type tagSearchRequest struct {
	Collection string   `json:"collection"`
	Tags       []string `json:"tags" binding:"required"`
	Match      string   `json:"match"`
	Limit      int      `json:"limit"`
}

func (s *Server) handleTagSearch(c *gin.Context) {
	var req tagSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.deps.Tags.Search(c.Request.Context(),
		s.collectionOrDefault(req.Collection), req.Tags, search.TagOptions{
			Match: req.Match,
			Limit: req.Limit,
		})
	s.respondResults(c, results, err)
}

type graphTraverseRequest struct {
	StartVertex       string   `json:"start_vertex" binding:"required"`
	MinDepth          int      `json:"min_depth"`
	MaxDepth          int      `json:"max_depth"`
	Direction         string   `json:"direction"`
	RelationshipTypes []string `json:"relationship_types"`
	MaxRelated        int      `json:"max_related"`
	TimeoutSeconds    float64  `json:"timeout_seconds"`
}

func (s *Server) handleGraphTraverse(c *gin.Context) {
	var req graphTraverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.deps.Graph.Traverse(c.Request.Context(), req.StartVertex, search.TraverseOptions{
		MinDepth:          req.MinDepth,
		MaxDepth:          req.MaxDepth,
		Direction:         req.Direction,
		RelationshipTypes: req.RelationshipTypes,
		MaxRelatedPerSeed: req.MaxRelated,
		Timeout:           time.Duration(req.TimeoutSeconds * float64(time.Second)),
	})
	s.respondResults(c, results, err)
}

func (s *Server) collectionOrDefault(collection string) string {
	if collection == "" {
		return s.cfg.DefaultCollection
	}
	return collection
}

// respondResults writes a search envelope. Envelope-level errors are
// business failures and still return 200.
func (s *Server) respondResults(c *gin.Context, results *search.Results, err error) {
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
