package forward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindEvent = "event"
	kindAck   = "ack"

	outcomeDelivered = "delivered"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
	outcomeOpen      = "breaker_open"
)

var forwardTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "corebridge_forward_total",
	Help: "Calls to Core by kind (event, ack) and outcome",
}, []string{"kind", "outcome"})
