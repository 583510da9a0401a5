package payment

import (
	"context"
	"sync"
	"time"

	"auction-engine/utils"
)

// SimulatedGateway accepts every capture and reports the outcome through the
// registered ResultHandler after a delay. Users on the decline list are declined.
type SimulatedGateway struct {
	delay   time.Duration
	decline map[string]struct{}

	mu       sync.Mutex
	handler  ResultHandler
	accepted map[string]string
	pending  sync.WaitGroup
}

// NewSimulatedGateway creates a gateway declining captures for declineUsers.
func NewSimulatedGateway(declineUsers []string, delay time.Duration) *SimulatedGateway {
	decline := make(map[string]struct{}, len(declineUsers))
	for _, u := range declineUsers {
		decline[u] = struct{}{}
	}
	return &SimulatedGateway{
		delay:    delay,
		decline:  decline,
		accepted: make(map[string]string),
	}
}

// OnResult registers the callback receiving capture outcomes.
func (g *SimulatedGateway) OnResult(h ResultHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Capture accepts req once per idempotency key and schedules its outcome.
func (g *SimulatedGateway) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	if ref, ok := g.accepted[req.IdempotencyKey]; ok {
		g.mu.Unlock()
		return ref, nil
	}
	ref := "sim_" + utils.GenerateID()
	g.accepted[req.IdempotencyKey] = ref
	handler := g.handler
	g.pending.Add(1)
	g.mu.Unlock()

	result := CaptureResult{IdempotencyKey: req.IdempotencyKey, Outcome: OutcomeCaptured, ProviderRef: ref}
	if _, ok := g.decline[req.UserID]; ok {
		result.Outcome = OutcomeDeclined
		result.Reason = "card declined"
	}

	go func() {
		defer g.pending.Done()
		if g.delay > 0 {
			time.Sleep(g.delay)
		}
		if handler == nil {
			return
		}
		if err := handler(context.Background(), result); err != nil {
			utils.Warn("Simulated gateway callback failed", map[string]any{
				"idempotency_key": result.IdempotencyKey,
				"outcome":         result.Outcome,
				"error":           err.Error(),
			})
		}
	}()
	return ref, nil
}

// Captures returns how many distinct captures were accepted.
func (g *SimulatedGateway) Captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.accepted)
}

// Wait blocks until every scheduled callback has run.
func (g *SimulatedGateway) Wait() {
	g.pending.Wait()
}
