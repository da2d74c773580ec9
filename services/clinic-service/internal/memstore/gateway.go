package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pawsitive-care/clinic/services/clinic-service/internal/workflow"
)

// Gateway is a scriptable workflow.Gateway for tests. Created intents
// start in-flight; tests flip Statuses to simulate the gateway side.
type Gateway struct {
	mu sync.Mutex

	Statuses  map[string]workflow.IntentStatus
	Metadata  map[string]map[string]string
	CreateErr error
	// RetrieveErr fails every RetrieveIntent call while set.
	RetrieveErr error

	created int
}

func NewGateway() *Gateway {
	return &Gateway{
		Statuses: map[string]workflow.IntentStatus{},
		Metadata: map[string]map[string]string{},
	}
}

func (g *Gateway) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (workflow.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return workflow.Intent{}, g.CreateErr
	}
	g.created++
	id := fmt.Sprintf("pi_test_%d", g.created)
	g.Statuses[id] = workflow.IntentInFlight
	g.Metadata[id] = metadata
	return workflow.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       workflow.IntentInFlight,
	}, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, intentID string) (workflow.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RetrieveErr != nil {
		return workflow.Intent{}, g.RetrieveErr
	}
	status, ok := g.Statuses[intentID]
	if !ok {
		return workflow.Intent{}, errors.New("no such intent")
	}
	return workflow.Intent{
		ID:           intentID,
		ClientSecret: intentID + "_secret",
		Status:       status,
	}, nil
}

// Succeed marks an intent succeeded, as if the customer completed checkout.
func (g *Gateway) Succeed(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Statuses[intentID] = workflow.IntentSucceeded
}

// Cancel marks an intent canceled at the gateway.
func (g *Gateway) Cancel(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Statuses[intentID] = workflow.IntentCanceled
}

// CreatedCount reports how many intents were minted.
func (g *Gateway) CreatedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}
