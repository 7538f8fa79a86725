package live

import (
	"time"

	"vitals-service/internal/models"
)

// Event is what a Client delivers to its consumer. The concrete types are
// Connect, Disconnect, Update and Ping; consumers switch on them.
type Event interface {
	isEvent()
}

type Connect struct {
	SessionID string
}

type Disconnect struct {
	Reason string
}

type Update struct {
	Metric models.Sample
	Trend  models.Trend
}

// Ping reports a completed liveness probe: the time between answering the
// server's ping and the server acknowledging that answer.
type Ping struct {
	Seq     uint64
	Latency time.Duration
}

func (Connect) isEvent()    {}
func (Disconnect) isEvent() {}
func (Update) isEvent()     {}
func (Ping) isEvent()       {}
