package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/ingest"
	"github.com/hai-surveillance-server/internal/pipeline"
)

// windowProcessTimeout bounds background processing of one submitted window,
// including full-stage model calls.
const windowProcessTimeout = 30 * time.Minute

type windowRequest struct {
	PatientID   string                   `json:"patient_id" binding:"required"`
	EncounterID string                   `json:"encounter_id" binding:"required"`
	Start       time.Time                `json:"start" binding:"required"`
	End         time.Time                `json:"end" binding:"required"`
	Events      []domain.StructuredEvent `json:"events"`
	Notes       []domain.NoteRecord      `json:"notes"`
}

// AttachIngest registers the window submission endpoint. Call before Start.
func (s *Server) AttachIngest(source *ingest.Source, p *pipeline.Pipeline) {
	s.router.POST("/api/v1/windows", func(c *gin.Context) {
		var req windowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.End.Before(req.Start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window end precedes start"})
			return
		}

		w := &domain.PatientWindow{
			PatientID:   req.PatientID,
			EncounterID: req.EncounterID,
			Start:       req.Start,
			End:         req.End,
			Events:      req.Events,
		}
		source.Put(w, req.Notes)

		// Extraction runs against local models and can take minutes, so the
		// window is processed off the request path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), windowProcessTimeout)
			defer cancel()
			if _, err := p.ProcessWindow(ctx, w); err != nil {
				s.log.WithError(err).WithField("patient_id", w.PatientID).Error("Window processing failed")
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"status":       "accepted",
			"patient_id":   req.PatientID,
			"encounter_id": req.EncounterID,
		})
	})
}
