package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hai-surveillance-server/internal/domain"
)

const defaultQueueLimit = 50

type candidateResponse struct {
	Candidate       *domain.Candidate          `json:"candidate"`
	Workflow        *domain.Workflow           `json:"workflow"`
	Extractions     []*domain.ExtractionResult `json:"extractions,omitempty"`
	Classifications []*domain.Classification   `json:"classifications,omitempty"`
	Review          *domain.ReviewDecision     `json:"review,omitempty"`
	AuditTrail      []*domain.AuditEntry       `json:"audit_trail,omitempty"`
}

// handleGetCandidate returns a candidate with its workflow, extraction
// results, classification history and audit trail
func (s *Server) handleGetCandidate(c *gin.Context) {
	id, ok := s.candidateID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	candidate, err := s.store.GetCandidate(ctx, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	workflow, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	resp := candidateResponse{Candidate: candidate, Workflow: workflow}

	if resp.Extractions, err = s.store.GetExtractions(ctx, id); err != nil {
		s.renderError(c, err)
		return
	}
	if resp.Classifications, err = s.store.Classifications(ctx, id); err != nil {
		s.renderError(c, err)
		return
	}
	if resp.AuditTrail, err = s.store.AuditTrail(ctx, id); err != nil {
		s.renderError(c, err)
		return
	}
	if review, err := s.store.GetReviewDecision(ctx, id); err == nil {
		resp.Review = review
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type queueEntry struct {
	Candidate      *domain.Candidate      `json:"candidate"`
	Workflow       *domain.Workflow       `json:"workflow"`
	Classification *domain.Classification `json:"classification,omitempty"`
}

// handleQueue returns classified candidates awaiting human review, oldest
// exposure first
func (s *Server) handleQueue(c *gin.Context) {
	s.listByStates(c, []domain.ReviewState{domain.StateClassified})
}

// handleResolved returns the feed of resolved candidates, optionally
// filtered to a single HAI type via ?type=
func (s *Server) handleResolved(c *gin.Context) {
	s.listByStates(c, []domain.ReviewState{domain.StateResolved})
}

func (s *Server) listByStates(c *gin.Context, states []domain.ReviewState) {
	limit := defaultQueueLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	var typeFilter domain.HAIType
	if raw := c.Query("type"); raw != "" {
		typeFilter = domain.HAIType(raw)
		if !typeFilter.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hai type"})
			return
		}
	}
	ctx := c.Request.Context()

	candidates, err := s.store.Queue(ctx, states, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	entries := make([]queueEntry, 0, len(candidates))
	for _, candidate := range candidates {
		if typeFilter != "" && candidate.Type != typeFilter {
			continue
		}
		workflow, err := s.store.GetWorkflow(ctx, candidate.ID)
		if err != nil {
			s.renderError(c, err)
			return
		}
		entry := queueEntry{Candidate: candidate, Workflow: workflow}
		if cl, err := s.store.LatestClassification(ctx, candidate.ID); err == nil {
			entry.Classification = cl
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.renderError(c, err)
			return
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type confirmRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
	Note     string `json:"note"`
}

// handleConfirm records reviewer agreement with the automated classification
// and resolves the candidate
func (s *Server) handleConfirm(c *gin.Context) {
	id, ok := s.candidateID(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.reviews.Confirm(c.Request.Context(), id, req.Reviewer, req.Note)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type overrideRequest struct {
	Reviewer string          `json:"reviewer" binding:"required"`
	Decision domain.Decision `json:"decision" binding:"required"`
	Reason   string          `json:"reason"`
	Note     string          `json:"note"`
}

// handleOverride records a reviewer decision that replaces the automated
// classification and resolves the candidate
func (s *Server) handleOverride(c *gin.Context) {
	id, ok := s.candidateID(c)
	if !ok {
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Decision {
	case domain.HAIConfirmed, domain.NotHAI, domain.NeedsReview:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision"})
		return
	}

	decision, err := s.reviews.Override(c.Request.Context(), id, req.Reviewer, req.Decision, req.Reason, req.Note)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) candidateID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidate id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "candidate was modified concurrently, reload and retry"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrEmptyOverrideReason):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
