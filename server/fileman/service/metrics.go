package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileman_ingest_total",
		Help: "Ingestion attempts by outcome.",
	}, []string{"result"})

	retractTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileman_retract_total",
		Help: "Retraction attempts by outcome.",
	}, []string{"result"})

	orphanedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileman_orphaned_blobs_total",
		Help: "Blobs whose removal from the object store failed.",
	})
)
