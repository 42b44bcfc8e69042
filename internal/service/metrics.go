package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/stakeops/internal/domain"
)

var (
	investRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeops_invest_requests_total",
		Help: "Investment request submissions, labeled by result kind",
	}, []string{"result"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeops_decisions_total",
		Help: "Accept/reject decisions, labeled by decision and result kind",
	}, []string{"decision", "result"})
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Kind(err)
}
