package api

import (
	"github.com/AndradeTK/ofertassertao/app/database"
	"github.com/AndradeTK/ofertassertao/app/monitor"
	"github.com/AndradeTK/ofertassertao/app/pipeline"
)

// PipelineInterface is the slice of the pipeline the handlers drive.
type PipelineInterface interface {
	SubmitApproved(promo database.PendingPromotion)
	PublishPendingCount()
	QueueStatus() map[string]any
}

var _ PipelineInterface = (*pipeline.Pipeline)(nil)

// MonitorInterface exposes source connection states for the stats endpoint.
type MonitorInterface interface {
	Statuses() map[string]monitor.State
}

var _ MonitorInterface = (*monitor.Manager)(nil)

type Handler struct {
	history    database.HistoryRepository
	pending    database.PendingRepository
	categories database.CategoryRepository
	settings   database.SettingRepository
	pipeline   PipelineInterface
	monitor    MonitorInterface
	hub        *pipeline.Hub
	version    string
}
