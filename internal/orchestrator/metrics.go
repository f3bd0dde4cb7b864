package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrox_tx_submitted_total",
		Help: "Instructions submitted to the ledger gateway.",
	}, []string{"instruction"})

	txRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrox_tx_rejected_total",
		Help: "Instructions rejected or failed at the ledger gateway.",
	}, []string{"instruction"})

	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrox_uploads_total",
		Help: "Successful data uploads.",
	})

	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrox_captures_total",
		Help: "Successful capture read-and-upload cycles.",
	}, []string{"kind"})

	captureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrox_capture_failures_total",
		Help: "Failed capture ticks, skipped until the next interval.",
	}, []string{"kind"})
)
