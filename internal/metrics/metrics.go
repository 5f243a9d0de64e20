package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_commands_total",
			Help: "Commands processed by outcome",
		},
		[]string{"outcome"}, // success|duplicate|validation_error|conflict|error
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventcore_events_appended_total",
			Help: "Domain events durably appended",
		},
	)

	OutboxDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_outbox_dispatch_total",
			Help: "Outbox dispatch attempts by result",
		},
		[]string{"result"}, // sent|nack|dead_letter
	)

	SagaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_saga_transitions_total",
			Help: "Saga state transitions by saga type and resulting status",
		},
		[]string{"saga_type", "status"},
	)

	CheckpointPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_checkpoint_position",
			Help: "Last processed event sequence per projection",
		},
		[]string{"projection"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		CommandsTotal,
		EventsAppendedTotal,
		OutboxDispatchTotal,
		SagaTransitionsTotal,
		CheckpointPosition,
	)
}
