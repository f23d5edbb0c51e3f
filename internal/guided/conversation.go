package guided

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Action is a user input to a running conversation.
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Action types.
const (
	ActionChoose  = "choose"
	ActionSubmit  = "submit"
	ActionRestart = "restart"
)

// Conversation owns the State of one guided flow and performs the lookup
// when the engine asks for it. Events are delivered to emit in order.
type Conversation struct {
	mu      sync.Mutex
	engine  *Engine
	fetcher Fetcher
	state   State
	emit    func(Event)
}

// NewConversation prepares a conversation; call Start to greet.
func NewConversation(engine *Engine, fetcher Fetcher, emit func(Event)) *Conversation {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Conversation{engine: engine, fetcher: fetcher, emit: emit}
}

// Start resets the flow and emits the greeting.
func (c *Conversation) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, out := c.engine.Start()
	c.apply(ctx, st, out)
}

// State returns the current flow state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle applies one user action. A lookup triggered by the action runs
// before Handle returns.
func (c *Conversation) Handle(ctx context.Context, a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		st  State
		out Output
		err error
	)
	switch a.Type {
	case ActionRestart:
		st, out = c.engine.Start()
	case ActionChoose:
		st, out, err = c.engine.Choose(c.state, a.Value)
	case ActionSubmit:
		st, out, err = c.engine.Submit(c.state, a.Text)
	default:
		err = ErrUnexpectedAction
	}
	if err != nil {
		return err
	}
	c.apply(ctx, st, out)
	return nil
}

func (c *Conversation) apply(ctx context.Context, st State, out Output) {
	c.state = st
	for _, ev := range out.Events {
		c.emit(ev)
	}
	if out.Request == nil {
		return
	}

	res, fetchErr := c.fetcher.Fetch(ctx, *out.Request)
	if fetchErr != nil {
		log.Warn().Err(fetchErr).Str("country", out.Request.Country).Msg("recommendation lookup failed")
	}
	st, resolved, err := c.engine.Resolve(c.state, res, fetchErr)
	if err != nil {
		log.Error().Err(err).Str("step", string(c.state.Step)).Msg("guided flow resolve out of order")
		return
	}
	c.state = st
	for _, ev := range resolved.Events {
		c.emit(ev)
	}
}
