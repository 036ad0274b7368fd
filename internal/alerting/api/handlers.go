package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

func errBody(code, message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": message}}
}

type postEventRequest struct {
	UserID     string            `json:"userId"`
	EventType  string            `json:"eventType"`
	Payload    map[string]string `json:"payload"`
	OccurredAt *time.Time        `json:"occurredAt"`
}

// PostEvent implements POST /v1/events: the real-time path entry for
// transaction, balance and goal updates.
func (api *Api) PostEvent(c *gin.Context) {
	var req postEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("INVALID_PARAMETER", "invalid request body"))
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, errBody("INVALID_PARAMETER", "userId is required"))
		return
	}
	ev := &model.DomainEvent{
		UserID:    req.UserID,
		EventType: model.DomainEventType(req.EventType),
		Payload:   req.Payload,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	} else {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := api.ingress.Accept(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusBadRequest, errBody("INVALID_PARAMETER", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, map[string]any{"status": "accepted"})
}

// EvaluateAlert implements POST /v1/alerts/:alertID/evaluate: an
// administrative trigger that runs one alert through the evaluator out
// of cadence.
func (api *Api) EvaluateAlert(c *gin.Context) {
	alertID := c.Param("alertID")
	if alertID == "" {
		c.JSON(http.StatusBadRequest, errBody("INVALID_PARAMETER", "missing alertID"))
		return
	}
	if err := api.scheduler.EnqueueAlertEvaluation(c.Request.Context(), alertID); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("INTERNAL_ERROR", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, map[string]any{"status": "accepted", "alertId": alertID})
}

type deliveryStatsResponse struct {
	ByStatus     map[string]int64 `json:"byStatus"`
	ByChannel    map[string]int64 `json:"byChannel"`
	DeadLettered int64            `json:"deadLettered"`
	QueueDepth   int64            `json:"queueDepth"`
}

// GetDeliveryStats implements GET /v1/deliveries/stats.
func (api *Api) GetDeliveryStats(c *gin.Context) {
	stats, err := api.deliveries.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("INTERNAL_ERROR", err.Error()))
		return
	}
	resp := deliveryStatsResponse{
		ByStatus:     map[string]int64{},
		ByChannel:    map[string]int64{},
		DeadLettered: stats.DeadLettered,
	}
	for s, n := range stats.ByStatus {
		resp.ByStatus[string(s)] = n
	}
	for ch, n := range stats.ByChannel {
		resp.ByChannel[string(ch)] = n
	}
	if api.queue != nil {
		if n, err := api.queue.Len(c.Request.Context()); err == nil {
			resp.QueueDepth = n
		}
	}
	c.JSON(http.StatusOK, resp)
}
