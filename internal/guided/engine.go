package guided

import (
	"fmt"
	"strings"
)

const (
	choiceYes       = "yes"
	choiceNo        = "no"
	choiceRestart   = "restart"
	choiceCondition = "condition"

	conditionPlaceholder = "e.g. heart attack, knee replacement, breast cancer…"
	facilityPlaceholder  = "Type hospital name…"
)

// Engine runs the guided flow for one variant. It holds no per-conversation
// state; callers keep the State value between transitions.
type Engine struct {
	variant Variant
}

// NewEngine returns an engine for v.
func NewEngine(v Variant) *Engine {
	return &Engine{variant: v}
}

// Country is the country code sent with every lookup.
func (e *Engine) Country() string {
	return e.variant.Country
}

// Start greets and asks the first question. Restarting is the same as
// starting: every collected answer is discarded.
func (e *Engine) Start() (State, Output) {
	var out Output
	out.bot(fmt.Sprintf("Hello! I'm the Ulink %s Doctor Recommendation Assistant. I'll help you find the right specialist.", e.variant.Country))
	return e.askLocation(State{}, &out), out
}

func (e *Engine) askLocation(s State, out *Output) State {
	if len(e.variant.Locations) == 1 {
		s.Location = e.variant.Locations[0].Value
		return e.askFacilityYN(s, out)
	}
	out.bot("Which state does the patient need a doctor in?")
	out.replies(e.variant.Locations...)
	s.Step = StepLocation
	return s
}

func (e *Engine) askFacilityYN(s State, out *Output) State {
	out.bot("Do you have a hospital in mind?")
	out.replies(Option{Label: "1. Yes", Value: choiceYes}, Option{Label: "2. No / Unsure", Value: choiceNo})
	s.Step = StepFacilityYN
	return s
}

func (e *Engine) askFacilityPick(s State, out *Output) State {
	facilities := e.variant.facilitiesIn(s.Location)
	options := make([]Option, 0, len(facilities))
	for _, f := range facilities {
		options = append(options, Option{Label: f, Value: f})
	}
	out.bot(fmt.Sprintf("Please select a hospital in %s:", s.Location))
	out.replies(options...)
	s.Step = StepFacilityPick
	return s
}

func (e *Engine) askCondition(s State, out *Output) State {
	out.bot("What is the patient's medical condition or required procedure?")
	out.input(conditionPlaceholder)
	s.Step = StepCondition
	return s
}

// Choose applies a quick-reply selection. Invalid values leave the state
// untouched.
func (e *Engine) Choose(s State, value string) (State, Output, error) {
	if value == choiceRestart {
		st, out := e.Start()
		return st, out, nil
	}
	if !s.Step.AcceptsChoice() {
		return s, Output{}, ErrUnexpectedAction
	}

	var out Output
	switch s.Step {
	case StepLocation:
		opt, ok := findOption(e.variant.Locations, value)
		if !ok {
			return s, Output{}, ErrInvalidChoice
		}
		out.user(opt.Label)
		s.Location = value
		if len(e.variant.facilitiesIn(value)) == 0 {
			return e.askCondition(s, &out), out, nil
		}
		return e.askFacilityYN(s, &out), out, nil

	case StepFacilityYN:
		switch value {
		case choiceYes:
			out.user("1. Yes")
			return e.askFacilityPick(s, &out), out, nil
		case choiceNo:
			out.user("2. No / Unsure")
			s.Facility = ""
			return e.askCondition(s, &out), out, nil
		}
		return s, Output{}, ErrInvalidChoice

	case StepFacilityPick:
		if !e.variant.hasFacility(s.Location, value) {
			return s, Output{}, ErrInvalidChoice
		}
		out.user(value)
		if value == NotListed {
			out.bot("Which hospital do you have in mind? I'll search for available doctors.")
			out.input(facilityPlaceholder)
			s.Step = StepFacilityText
			return s, out, nil
		}
		s.Facility = value
		return e.askCondition(s, &out), out, nil

	case StepResults:
		if value != choiceCondition {
			return s, Output{}, ErrInvalidChoice
		}
		out.user("Try Another Condition")
		s.Condition = ""
		return e.askCondition(s, &out), out, nil
	}
	return s, Output{}, ErrUnexpectedAction
}

// Submit applies free text. Blank text is ignored without a transition.
func (e *Engine) Submit(s State, text string) (State, Output, error) {
	text = strings.TrimSpace(text)
	if !s.Step.AcceptsText() {
		return s, Output{}, ErrUnexpectedAction
	}
	if text == "" {
		return s, Output{}, nil
	}

	var out Output
	out.user(text)
	if s.Step == StepFacilityText {
		s.Facility = text
		return e.askCondition(s, &out), out, nil
	}

	s.Condition = text
	s.Step = StepFetching
	out.typing(true)
	out.Request = &Request{
		Condition: s.Condition,
		Hospital:  s.Facility,
		State:     requestState(s.Location),
		Country:   e.variant.Country,
	}
	return s, out, nil
}

// Resolve renders the outcome of the lookup issued by Submit.
func (e *Engine) Resolve(s State, res *Result, fetchErr error) (State, Output, error) {
	if s.Step != StepFetching {
		return s, Output{}, ErrUnexpectedAction
	}

	var out Output
	out.typing(false)
	s.Step = StepResults

	if fetchErr != nil {
		out.bot(fmt.Sprintf("Sorry, I couldn't connect to the recommendation service. Please try again.\nError: %s", fetchErr.Error()))
		out.replies(Option{Label: "Start New Search", Value: choiceRestart})
		return s, out, nil
	}

	if !res.Found() {
		out.bot(fmt.Sprintf("I can't find doctor recommendations for %q with those filters.\n\nWould you like to try a different search?", s.Condition))
		out.replies(
			Option{Label: "New Recommendation", Value: choiceRestart},
			Option{Label: "Try Another Condition", Value: choiceCondition},
		)
		return s, out, nil
	}

	if res.AISpecialty != "" {
		out.bot(fmt.Sprintf("Identified specialty: %s (%s)", res.AISpecialty, res.AIType))
	}
	out.Events = append(out.Events, Event{Kind: EventBot, Cards: res})

	if len(res.Recommendations) == 1 {
		out.bot("I only found 1 doctor recommendation. Would you like to look for more?")
		out.replies(
			Option{Label: "Try Another Condition", Value: choiceCondition},
			Option{Label: "Start Over", Value: choiceRestart},
		)
		return s, out, nil
	}
	out.bot("Here are your doctor recommendations! Please verify each link before sharing with the member.")
	out.replies(Option{Label: "New Recommendation", Value: choiceRestart})
	return s, out, nil
}

func requestState(location string) string {
	if location == Unsure {
		return ""
	}
	return location
}

func findOption(options []Option, value string) (Option, bool) {
	for _, opt := range options {
		if opt.Value == value {
			return opt, true
		}
	}
	return Option{}, false
}
