package hub

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/classlab/realtime/internal/metrics"
)

// Router fans a serialized envelope out to a set of connections. Delivery
// is fire-and-forget: a failed send is logged and counted, never retried,
// and never stops delivery to the remaining targets. Ordering is
// per-connection FIFO only, inherited from the transport.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		logger:  logger.With(slog.String("component", "broadcast_router")),
		metrics: m,
	}
}

// Broadcast delivers msg to every target except the one matching exclude.
// Pass uuid.Nil to deliver to all targets.
func (r *Router) Broadcast(targets []Conn, msg []byte, exclude uuid.UUID) {
	for _, c := range targets {
		if exclude != uuid.Nil && c.ID() == exclude {
			continue
		}
		if err := c.Send(msg); err != nil {
			r.metrics.SendFailuresTotal.Inc()
			r.logger.Warn("Dropped envelope for unreachable connection",
				slog.String("connID", c.ID().String()),
				slog.Any("error", err),
			)
			continue
		}
		r.metrics.BroadcastsTotal.Inc()
	}
}
