package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/orchestrator"
	"meritpay/internal/task"
)

type paymentRequest struct {
	RecipientAddress string `json:"recipientAddress"`
	TaskID           string `json:"taskId"`
}

type depositRequest struct {
	Amount string `json:"amount"`
	TaskID string `json:"taskId"`
}

// handleEvaluate runs the full submission flow. The merged outcome comes
// back with 200 even when the payout after a passing evaluation failed, the
// evaluation result is still owed to the client.
func (s *Server) handleEvaluate(c *gin.Context) {
	var sub orchestrator.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	outcome, err := s.orch.HandleSubmission(c.Request.Context(), sub)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleProcessPayment settles a payout for an existing task. Unlike the
// evaluate path, payment failures here are raised to the caller.
func (s *Server) handleProcessPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	result, err := s.orch.ProcessPayment(c.Request.Context(), req.RecipientAddress, req.TaskID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBalance(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required query parameter: taskId"})
		return
	}
	step := s.orch.CheckBalance(c.Request.Context(), taskID)
	c.JSON(http.StatusOK, step)
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if req.Amount == "" || req.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: amount and taskId"})
		return
	}
	step := s.orch.DepositFunds(c.Request.Context(), req.Amount, req.TaskID)
	c.JSON(http.StatusOK, step)
}

func (s *Server) handleSession(c *gin.Context) {
	taskID := c.Param("id")
	snapshot, ok := s.orch.Session(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task session not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the error taxonomy onto status codes. Messages pass
// through verbatim, clients key off them.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case meriterrors.IsValidation(err):
		status = http.StatusBadRequest
	case meriterrors.IsAlreadyProcessed(err):
		status = http.StatusConflict
	case errors.Is(err, task.ErrSessionNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
