package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pinnokio/orchestrator/pkg/models"
)

// callbackHandler handles POST /lpt/callback. Workers report progress and
// completion here. The reply is {ok: true} for anything that was accepted,
// including idempotent no-ops on unknown or already-terminal tasks; only
// malformed input gets {ok: false}.
func (s *Server) callbackHandler(c *gin.Context) {
	var cb models.WorkerCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed callback body"})
		return
	}

	if err := s.callbacks.HandleCallback(c.Request.Context(), &cb); err != nil {
		if models.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		// The callback was accepted; resumption failures are ours to retry,
		// not the worker's.
		slog.Error("Callback processing failed", "task_id", cb.TaskID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
