package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corebridge_events_received_total",
		Help: "Accepted event submissions by result (stored, duplicate)",
	}, []string{"result"})
	acksRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corebridge_acks_total",
		Help: "Acknowledgments by result (created, repeat)",
	}, []string{"result"})
	mailboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corebridge_mailbox_messages_total",
		Help: "Mailbox messages by direction (enqueued, drained)",
	}, []string{"direction"})
)
