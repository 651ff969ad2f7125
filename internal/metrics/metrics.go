// Пакет metrics — Prometheus-метрики прогона multideposit.
// Регистрирует метрики: md_deposits_total, md_actions_total,
// md_action_duration_seconds, md_rollbacks_total, md_payload_bytes_total
// и метрики кэша справочника. Утилита живёт один прогон, поэтому метрики
// не отдаются по HTTP, а при необходимости отправляются в Pushgateway.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName — имя задания в Pushgateway.
const JobName = "multideposit"

// Метрики депозитов и действий конвейера.
var (
	// DepositsTotal — депозиты по итоговому состоянию.
	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_deposits_total",
			Help: "Количество обработанных депозитов по итоговому состоянию",
		},
		[]string{"result"},
	)

	// ActionsTotal — выполнения действий конвейера.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_actions_total",
			Help: "Количество выполнений действий конвейера",
		},
		[]string{"action", "result"},
	)

	// ActionDuration — длительность выполнения действий.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "md_action_duration_seconds",
			Help:    "Длительность выполнения действий конвейера в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// RollbacksTotal — откаты действий.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "md_rollbacks_total",
			Help: "Количество откатов действий конвейера",
		},
		[]string{"action", "result"},
	)

	// PayloadBytesTotal — объём скопированной полезной нагрузки.
	PayloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "md_payload_bytes_total",
			Help: "Объём скопированной полезной нагрузки в байтах",
		},
	)
)

// Метрики кэша справочника пользователей.
var (
	IdentityCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "md_identity_cache_hits_total",
		Help: "Количество попаданий в кэш справочника пользователей",
	})
	IdentityCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "md_identity_cache_misses_total",
		Help: "Количество промахов кэша справочника пользователей",
	})
)

// Значения метки result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Push отправляет все зарегистрированные метрики в Pushgateway.
func Push(ctx context.Context, url, runID string) error {
	err := push.New(url, JobName).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("отправка метрик в Pushgateway %s: %w", url, err)
	}
	return nil
}
