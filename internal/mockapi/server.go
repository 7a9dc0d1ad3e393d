// Package mockapi serves the lesson REST contract from an in-memory backend.
package mockapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/config"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/gateway"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/lessonplay/internal/middleware"
	"github.com/therealutkarshpriyadarshi/lessonplay/pkg/models"
)

// API exposes a gateway.Memory over HTTP
type API struct {
	backend *gateway.Memory
	log     *logging.Logger
}

// NewRouter builds the gin engine. Routes live under /api. A nil limiter
// disables rate limiting; the caller owns its cleanup loop.
func NewRouter(backend *gateway.Memory, cfg config.ServerConfig, limiter *middleware.RateLimiter, log *logging.Logger) *gin.Engine {
	api := &API{backend: backend, log: logging.OrNop(log).WithComponent("mockapi")}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(log), middleware.Identity(cfg.JWTSecret))
	if limiter != nil {
		router.Use(middleware.RateLimit(limiter))
	}

	router.GET("/health", api.healthCheck)

	r := router.Group("/api")
	{
		// Videos
		r.GET("/videos/:id", api.getVideo)

		// Sessions
		r.GET("/sessions/video/:videoId", api.getSessionByVideo)
		r.POST("/sessions/start", api.startSession)
		r.PUT("/sessions/:id/progress", api.updateProgress)
		r.POST("/sessions/:id/milestone", api.markMilestone)
		r.POST("/sessions/:id/question", api.submitAnswer)
		r.PUT("/sessions/:id/complete", api.completeSession)

		// Authoring
		authoring := r.Group("", middleware.RequireTeacher())
		authoring.POST("/milestones", api.createMilestone)
		authoring.POST("/milestones/:id/questions", api.createQuestion)
	}

	return router
}

func (api *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (api *API) context(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if studentID, ok := middleware.GetStudentID(c); ok {
		ctx = gateway.WithStudent(ctx, studentID)
	}
	return ctx
}

func (api *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gateway.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		api.log.WithField("path", c.FullPath()).ErrorWithErr("request failed", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (api *API) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// Get video endpoint; answer keys are only served to teachers
func (api *API) getVideo(c *gin.Context) {
	detail, err := api.backend.GetVideo(api.context(c), c.Param("id"))
	if err != nil {
		api.fail(c, err)
		return
	}
	if !middleware.IsTeacher(c) {
		view := detail.StudentView()
		detail = &view
	}
	c.JSON(http.StatusOK, detail)
}

func (api *API) getSessionByVideo(c *gin.Context) {
	session, err := api.backend.GetSessionByVideo(api.context(c), c.Param("videoId"))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (api *API) startSession(c *gin.Context) {
	var req struct {
		VideoID string `json:"video_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.VideoID == "" {
		api.badRequest(c, "video_id is required")
		return
	}

	session, err := api.backend.StartSession(api.context(c), req.VideoID)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (api *API) updateProgress(c *gin.Context) {
	var req models.ProgressUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		api.badRequest(c, "invalid progress payload")
		return
	}

	session, err := api.backend.UpdateProgress(api.context(c), c.Param("id"), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (api *API) markMilestone(c *gin.Context) {
	var req models.MilestoneMark
	if err := c.ShouldBindJSON(&req); err != nil || req.MilestoneID == "" {
		api.badRequest(c, "milestone_id is required")
		return
	}

	progress, err := api.backend.MarkMilestone(api.context(c), c.Param("id"), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (api *API) submitAnswer(c *gin.Context) {
	var req models.AnswerSubmission
	if err := c.ShouldBindJSON(&req); err != nil || req.QuestionID == "" {
		api.badRequest(c, "question_id and answer are required")
		return
	}

	result, err := api.backend.SubmitAnswer(api.context(c), c.Param("id"), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (api *API) completeSession(c *gin.Context) {
	var req models.SessionCompletion
	if err := c.ShouldBindJSON(&req); err != nil {
		api.badRequest(c, "invalid completion payload")
		return
	}

	session, err := api.backend.CompleteSession(api.context(c), c.Param("id"), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (api *API) createMilestone(c *gin.Context) {
	var req models.MilestoneInput
	if err := c.ShouldBindJSON(&req); err != nil || req.VideoID == "" {
		api.badRequest(c, "video_id is required")
		return
	}

	milestone, err := api.backend.CreateMilestone(api.context(c), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, milestone)
}

func (api *API) createQuestion(c *gin.Context) {
	var req models.QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		api.badRequest(c, "invalid question payload")
		return
	}

	question, err := api.backend.CreateQuestion(api.context(c), c.Param("id"), req)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}
