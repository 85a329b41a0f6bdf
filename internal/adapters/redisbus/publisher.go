package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/ports"
)

const publishTimeout = 2 * time.Second

// Message is the JSON document published for each engine event.
type Message struct {
	Type        coordination.EventType `json:"type"`
	At          time.Time              `json:"at"`
	Wallets     []string               `json:"wallets,omitempty"`
	Accepted    int                    `json:"accepted,omitempty"`
	Rejected    int                    `json:"rejected,omitempty"`
	ResultID    string                 `json:"result_id,omitempty"`
	Coordinated bool                   `json:"coordinated"`
	HighestRisk domain.RiskLevel       `json:"highest_risk"`
	Incomplete  bool                   `json:"incomplete,omitempty"`
	Groups      []GroupMessage         `json:"groups,omitempty"`
}

// GroupMessage is the compact form of a group, without edges.
type GroupMessage struct {
	ID      string           `json:"id"`
	Members []string         `json:"members"`
	Score   float64          `json:"score"`
	Risk    domain.RiskLevel `json:"risk"`
	Flags   domain.FlagSet   `json:"flags"`
}

// Publisher is a coordination.Observer that forwards events to an
// EventPublisher from a background goroutine. OnEvent never blocks the
// engine: when the queue is full the event is dropped and counted.
type Publisher struct {
	pub     ports.EventPublisher
	prefix  string
	queue   chan coordination.Event
	dropped atomic.Int64
	failed  atomic.Int64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a Publisher. Channels are named prefix + ":" + event type.
func NewPublisher(pub ports.EventPublisher, prefix string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if prefix == "" {
		prefix = "polywatch"
	}
	return &Publisher{pub: pub, prefix: prefix, queue: make(chan coordination.Event, buffer)}
}

// Start launches the delivery goroutine. It stops when ctx is done or Close is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.queue:
				if !ok {
					return
				}
				p.deliver(ctx, ev)
			}
		}
	}()
}

// OnEvent implements coordination.Observer. Events after Close are dropped.
func (p *Publisher) OnEvent(ev coordination.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Close drains the queue and waits for the delivery goroutine.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Failed returns how many events could not be published.
func (p *Publisher) Failed() int64 { return p.failed.Load() }

func (p *Publisher) deliver(ctx context.Context, ev coordination.Event) {
	payload, err := json.Marshal(Encode(ev))
	if err != nil {
		p.failed.Add(1)
		slog.Warn("event encode failed", "type", ev.Type, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	channel := fmt.Sprintf("%s:%s", p.prefix, ev.Type)
	if err := p.pub.Publish(ctx, channel, payload); err != nil {
		p.failed.Add(1)
		slog.Warn("event publish failed", "channel", channel, "err", err)
	}
}

// Encode converts an engine event into its published form.
func Encode(ev coordination.Event) Message {
	msg := Message{Type: ev.Type, At: ev.At.UTC(), Wallets: ev.Wallets}
	switch r := ev.Payload.(type) {
	case tradestore.IngestReport:
		msg.Accepted = r.Accepted
		msg.Rejected = len(r.Rejected)
	case domain.AnalysisResult:
		msg.ResultID = r.ID
		msg.Coordinated = r.IsCoordinated
		msg.HighestRisk = r.HighestRisk
		msg.Groups = groupMessages(r.Groups)
	case domain.BatchResult:
		msg.ResultID = r.ID
		msg.Coordinated = len(r.Groups) > 0
		msg.HighestRisk = r.HighestRisk
		msg.Incomplete = r.Incomplete
		msg.Groups = groupMessages(r.Groups)
	}
	return msg
}

func groupMessages(groups []domain.Group) []GroupMessage {
	if len(groups) == 0 {
		return nil
	}
	out := make([]GroupMessage, len(groups))
	for i, g := range groups {
		out[i] = GroupMessage{
			ID:      g.ID,
			Members: g.Members,
			Score:   g.CoordinationScore,
			Risk:    g.RiskLevel,
			Flags:   g.Flags,
		}
	}
	return out
}
