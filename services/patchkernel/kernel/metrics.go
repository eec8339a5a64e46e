// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for kernelTransactionsTotal.
const (
	outcomeCommitted = "committed"
	outcomeRejected  = "rejected"
	outcomeAborted   = "aborted"
	outcomeEmpty     = "empty"
	outcomeFailed    = "failed"
)

var (
	kernelTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchkernel_transactions_total",
		Help: "Transactions by outcome",
	}, []string{"outcome"})

	kernelHistoryMovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchkernel_history_moves_total",
		Help: "Undo and redo operations by direction and status",
	}, []string{"direction", "status"})

	kernelOpsPerTransaction = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchkernel_ops_per_transaction",
		Help:    "Number of primitive ops in committed transactions",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500},
	})

	kernelTransactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchkernel_transaction_duration_seconds",
		Help:    "Time from transaction open to commit or rejection",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	kernelHistorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patchkernel_history_size",
		Help: "Number of committed transactions held in the history tree",
	})

	kernelValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchkernel_validation_errors_total",
		Help: "Validation errors on staged documents by diagnostic code",
	}, []string{"code"})
)

func recordTransaction(outcome string, start time.Time, opCount int) {
	kernelTransactionsTotal.WithLabelValues(outcome).Inc()
	kernelTransactionDuration.Observe(time.Since(start).Seconds())
	if outcome == outcomeCommitted {
		kernelOpsPerTransaction.Observe(float64(opCount))
	}
}

func recordHistoryMove(direction EventKind, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	kernelHistoryMovesTotal.WithLabelValues(string(direction), status).Inc()
}
