package queue

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/model"
	queuesvc "github.com/jwalitptl/queue-api/internal/service/queue"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/messaging"
)

const defaultHeartbeat = 15 * time.Second

type Handler struct {
	service   queuesvc.QueueService
	events    messaging.Broker
	channel   string
	heartbeat time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler serves the queue API. events may be nil, in which case the
// event stream answers 503.
func NewHandler(service queuesvc.QueueService, events messaging.Broker, channel string) *Handler {
	return &Handler{
		service:   service,
		events:    events,
		channel:   channel,
		heartbeat: defaultHeartbeat,
		done:      make(chan struct{}),
	}
}

// CloseStreams ends every open event stream. The server calls it on
// shutdown since streams never go idle on their own.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	queue := r.Group("/queue")
	{
		queue.GET("", h.List)
		queue.DELETE("", h.ClearAll)
		queue.GET("/completed", h.ListCompleted)
		queue.DELETE("/completed", h.ClearCompleted)
		queue.GET("/events", h.Events)

		patients := queue.Group("/patients")
		patients.POST("", h.Add)
		patients.PUT("/:id", h.Update)
		patients.DELETE("/:id", h.Remove)
		patients.POST("/:id/complete", h.Complete)
		patients.POST("/:id/restore", h.Restore)
		patients.PUT("/:id/position", h.Reorder)
	}
}

func (h *Handler) List(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}

func (h *Handler) ListCompleted(c *gin.Context) {
	patients, err := h.service.ListCompleted(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(patients))
}

func (h *Handler) Add(c *gin.Context) {
	var req model.AddPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	patient, err := h.service.Add(c.Request.Context(), req.Name, req.Examination)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(patient))
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	var req model.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	if err := h.service.Update(c.Request.Context(), id, req.Name, req.Examination); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("patient updated", nil))
}

// Complete answers with the record as it was before completion, or null
// when the patient was unknown or already completed.
func (h *Handler) Complete(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	previous, err := h.service.MarkCompleted(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(previous))
}

func (h *Handler) Restore(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	restored, err := h.service.RestorePatient(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(restored))
}

func (h *Handler) Remove(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	if err := h.service.Remove(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("patient removed", nil))
}

func (h *Handler) Reorder(c *gin.Context) {
	id, ok := patientID(c)
	if !ok {
		return
	}

	var req model.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	if err := h.service.Reorder(c.Request.Context(), id, *req.Position); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("patient moved", nil))
}

func (h *Handler) ClearAll(c *gin.Context) {
	if err := h.service.ClearAll(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("queue cleared", nil))
}

func (h *Handler) ClearCompleted(c *gin.Context) {
	if err := h.service.ClearCompleted(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("completed patients cleared", nil))
}

// Events streams queue events as Server-Sent Events until the client
// disconnects. Clients re-read the queue when an event arrives.
func (h *Handler) Events(c *gin.Context) {
	if h.events == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	messages, err := h.events.Subscribe(ctx, h.channel)
	if err != nil {
		c.Error(apperrors.Internal(err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent("ready", "{}")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		case msg, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(eventName(msg), string(msg))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", "{}")
			return true
		}
	})
}

func eventName(msg []byte) string {
	var evt struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &evt); err != nil || evt.Type == "" {
		log.Debug().Err(err).Msg("queue event without type")
		return "message"
	}
	return evt.Type
}

func patientID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid patient id", err))
		return uuid.Nil, false
	}
	return id, true
}
