package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryCommands is a reference Commands implementation for local
// deployments and tests. A durable deployment persists through the
// event-sourced store §1 treats as an external collaborator instead.
type InMemoryCommands struct {
	mu            sync.Mutex
	messages      map[string]string
	itemResponses map[string]map[string]any
	advanced      map[string]int
}

// NewInMemoryCommands constructs an empty InMemoryCommands.
func NewInMemoryCommands() *InMemoryCommands {
	return &InMemoryCommands{
		messages:      make(map[string]string),
		itemResponses: make(map[string]map[string]any),
		advanced:      make(map[string]int),
	}
}

func (c *InMemoryCommands) PersistUserMessage(ctx context.Context, conversationID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.messages[id] = ""
	return id, nil
}

func (c *InMemoryCommands) CompleteMessage(ctx context.Context, messageID, fullContent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[messageID] = fullContent
	return nil
}

func (c *InMemoryCommands) PersistItemResponse(ctx context.Context, conversationID, itemID string, responses map[string]any, userConfirmed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemResponses[conversationID+":"+itemID] = responses
	return nil
}

func (c *InMemoryCommands) AdvanceTemplate(ctx context.Context, conversationID string, nextIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanced[conversationID] = nextIndex
	return nil
}
