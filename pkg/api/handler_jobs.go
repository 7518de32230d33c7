package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pinnokio/orchestrator/pkg/models"
)

type saveJobRequest struct {
	JobType      string             `json:"job_type" binding:"required"`
	UserID       string             `json:"user_id" binding:"required"`
	CompanyID    string             `json:"company_id" binding:"required"`
	MandatePath  string             `json:"mandate_path" binding:"required"`
	Instructions string             `json:"instructions"`
	Context      models.Context     `json:"context"`
	Schedule     models.JobSchedule `json:"schedule" binding:"required"`
}

// saveJobHandler handles POST /jobs. Saving twice for the same mandate and
// job type overwrites the schedule; the job ID is deterministic.
func (s *Server) saveJobHandler(c *gin.Context) {
	var req saveJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed job body"})
		return
	}

	job := &models.SchedulerJob{
		JobType:      req.JobType,
		UserID:       req.UserID,
		CompanyID:    req.CompanyID,
		MandatePath:  req.MandatePath,
		ThreadKey:    "scheduler_" + req.JobType,
		Instructions: req.Instructions,
		Context:      req.Context,
	}
	if err := s.scheduler.SaveJob(c.Request.Context(), job, req.Schedule); err != nil {
		if models.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// listJobsHandler handles GET /jobs?user_id=...
func (s *Server) listJobsHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	jobs, err := s.jobs.ListJobsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// deleteJobHandler handles DELETE /jobs?job_id=... The job ID contains path
// separators (it embeds the mandate path), so it travels as a query param.
func (s *Server) deleteJobHandler(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id is required"})
		return
	}
	if err := s.scheduler.DeleteJob(c.Request.Context(), jobID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": jobID})
}
