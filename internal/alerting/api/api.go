// Package api exposes the HTTP surface of the alerting subsystem:
// domain event ingress, the administrative evaluate-now trigger, and
// delivery statistics.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/database"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/scheduler"
)

type Api struct {
	scheduler  *scheduler.Scheduler
	ingress    *scheduler.Ingress
	deliveries *database.DeliveryRepo
	queue      scheduler.Queue
}

func NewApi(router *gin.Engine, sch *scheduler.Scheduler, ing *scheduler.Ingress, deliveries *database.DeliveryRepo, q scheduler.Queue) *Api {
	api := &Api{scheduler: sch, ingress: ing, deliveries: deliveries, queue: q}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.POST("/v1/events", api.PostEvent)
	router.POST("/v1/alerts/:alertID/evaluate", api.EvaluateAlert)
	router.GET("/v1/deliveries/stats", api.GetDeliveryStats)
}
