// Package guided implements the scripted doctor-recommendation conversation:
// a linear question sequence that collects a location, an optional facility,
// and a condition before issuing a single webhook request.
//
// The flow is an explicit value. Every transition takes a State and returns
// the next State plus the Output the caller should render, so the engine has
// no I/O of its own and each step can be tested in isolation.
package guided

import "github.com/pkg/errors"

// Step tags which user action the flow is waiting for.
type Step string

const (
	StepLocation     Step = "AWAIT_LOCATION"
	StepFacilityYN   Step = "AWAIT_FACILITY_YN"
	StepFacilityPick Step = "AWAIT_FACILITY_PICK"
	StepFacilityText Step = "AWAIT_FACILITY_TEXT"
	StepCondition    Step = "AWAIT_CONDITION"
	StepFetching     Step = "FETCHING"
	StepResults      Step = "RESULTS_SHOWN"
)

// AcceptsChoice reports whether the step is answered with a quick reply.
func (s Step) AcceptsChoice() bool {
	switch s {
	case StepLocation, StepFacilityYN, StepFacilityPick, StepResults:
		return true
	}
	return false
}

// AcceptsText reports whether the step is answered with free text.
func (s Step) AcceptsText() bool {
	return s == StepFacilityText || s == StepCondition
}

var (
	// ErrUnexpectedAction is returned when an action does not match the
	// pending step, e.g. free text while a quick reply is expected.
	ErrUnexpectedAction = errors.New("action not accepted at this step")
	// ErrInvalidChoice is returned for a quick-reply value that was not offered.
	ErrInvalidChoice = errors.New("invalid choice")
)

// State is the collected answers plus the pending step.
type State struct {
	Step      Step   `json:"step"`
	Location  string `json:"location"`
	Facility  string `json:"facility"`
	Condition string `json:"condition"`
}

// Option is one quick reply.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// EventKind discriminates Output events.
type EventKind string

const (
	EventBot          EventKind = "bot"
	EventUser         EventKind = "user"
	EventQuickReplies EventKind = "quickReplies"
	EventInput        EventKind = "input"
	EventTyping       EventKind = "typing"
	// EventError reports a rejected action; the flow state is unchanged.
	EventError EventKind = "error"
)

// Event is one thing the caller should render, in order.
type Event struct {
	Kind        EventKind `json:"type"`
	Text        string    `json:"text,omitempty"`
	Cards       *Result   `json:"cards,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Active      bool      `json:"active,omitempty"`
}

// Output is the result of a transition. Request is set when the flow has
// entered StepFetching and the caller must perform the lookup, then hand the
// outcome to Resolve.
type Output struct {
	Events  []Event
	Request *Request
}

func (o *Output) bot(text string) {
	o.Events = append(o.Events, Event{Kind: EventBot, Text: text})
}

func (o *Output) user(text string) {
	o.Events = append(o.Events, Event{Kind: EventUser, Text: text})
}

func (o *Output) replies(options ...Option) {
	o.Events = append(o.Events, Event{Kind: EventQuickReplies, Options: options})
}

func (o *Output) input(placeholder string) {
	o.Events = append(o.Events, Event{Kind: EventInput, Placeholder: placeholder})
}

func (o *Output) typing(active bool) {
	o.Events = append(o.Events, Event{Kind: EventTyping, Active: active})
}
