package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Heartbeat is the liveness monitor. Each sweep puts every connection
// through a two-state machine: a connection still pending from the last
// sweep is terminated; an alive one is marked pending and probed. One
// missed interval is fatal, there is no retry.
type Heartbeat struct {
	hub      *Hub
	interval time.Duration
	deadline time.Duration
	log      *zap.SugaredLogger
}

func NewHeartbeat(hub *Hub, interval, writeDeadline time.Duration, log *zap.SugaredLogger) *Heartbeat {
	return &Heartbeat{hub: hub, interval: interval, deadline: writeDeadline, log: log}
}

func (hb *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb.Sweep()
		}
	}
}

// Sweep probes every registered connection once.
func (hb *Heartbeat) Sweep() {
	for _, c := range hb.hub.Clients() {
		if !c.Alive() {
			hb.log.Infow("terminating dead socket",
				"user_id", c.UserID, "device_id", c.DeviceID, "socket_id", c.SocketID)
			hb.hub.Remove(c)
			c.Close()
			continue
		}
		c.ClearAlive()
		if err := c.Ping(hb.deadline); err != nil {
			hb.log.Infow("ping failed, closing socket",
				"user_id", c.UserID, "device_id", c.DeviceID, "error", err)
			hb.hub.Remove(c)
			c.Close()
		}
	}
}
