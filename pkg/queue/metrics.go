package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_tickets_requested_total",
			Help: "Ticket requests by room and outcome",
		},
		[]string{"room", "outcome"},
	)

	checkIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_check_ins_total",
			Help: "Check-ins by room and outcome",
		},
		[]string{"room", "outcome"},
	)

	sweptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_room_swept_entries_total",
			Help: "Stale room entries removed by the expiry sweep",
		},
		[]string{"room"},
	)

	admissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waiting_room_admission_wait_seconds",
			Help:    "Time between ticket creation and admission of queued tickets",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"room"},
	)
)

// outcome labels a finished operation: the ticket status, or the error kind.
func outcome(ticket *Ticket, err error) string {
	if err != nil {
		return string(KindOf(err))
	}
	return string(ticket.Status)
}

func roomLabel(room string) string {
	return strings.ToLower(room)
}

// Requests that never resolve a room share one series.
const unknownRoomLabel = "unknown"
