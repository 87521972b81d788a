package decoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	loadAttempts   prometheus.Counter
	decodes        *prometheus.CounterVec
	decodeDuration prometheus.Histogram
	decodedBytes   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		loadAttempts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lonboard_decoder_load_attempts_total",
			Help: "Number of decode module load attempts (at most one per engine)",
		}),
		decodes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lonboard_decoder_decodes_total",
			Help: "Number of buffer decodes by result",
		}, []string{"result"}),
		decodeDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "lonboard_decoder_decode_duration_seconds",
			Help:    "Time taken to decode a buffer",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		decodedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lonboard_decoder_decoded_bytes_total",
			Help: "Total encoded bytes successfully decoded",
		}),
	}
}
