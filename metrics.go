package lonboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type layerMetrics struct {
	propsSnapshots  *prometheus.CounterVec
	serializedBytes prometheus.Counter
}

func newLayerMetrics(reg prometheus.Registerer) *layerMetrics {
	return &layerMetrics{
		propsSnapshots: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lonboard_layer_props_snapshots_total",
			Help: "Number of layer state snapshots serialized for the renderer",
		}, []string{"layer_type"}),
		serializedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lonboard_layer_serialized_bytes_total",
			Help: "Total Parquet bytes produced by layer state snapshots",
		}),
	}
}
