package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedump_uploads_total",
		Help: "Number of uploads, by result",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedump_upload_bytes_total",
		Help: "Number of bytes received by successful uploads",
	})

	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedump_downloads_total",
		Help: "Number of files served",
	})

	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedump_deletes_total",
		Help: "Number of files deleted",
	})

	// kind is one of blob, record or staging
	sweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedump_sweep_removed_total",
		Help: "Number of orphans removed by the sweep, by kind",
	}, []string{"kind"})
)

// upload results not covered by metadatastore.InsertResult
const (
	resultTooLarge = "too_large"
	resultFailed   = "failed"
)
