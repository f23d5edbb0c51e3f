package guided

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// OutcomeNotFound is the explicit "no match" marker returned by workflows.
const OutcomeNotFound = "not_found"

// Request is the single lookup issued per guided conversation.
type Request struct {
	Condition string `json:"condition"`
	Hospital  string `json:"hospital"`
	State     string `json:"state"`
	Country   string `json:"country"`
}

// Result is the workflow's answer.
type Result struct {
	Outcome         string           `json:"outcome,omitempty"`
	AISpecialty     string           `json:"ai_specialty,omitempty"`
	AIType          string           `json:"ai_type,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is one doctor card.
type Recommendation struct {
	Number           Loose  `json:"recommendation_number,omitempty"`
	DoctorName       string `json:"doctor_name"`
	Hospital         string `json:"hospital"`
	MedicalCondition string `json:"medical_condition"`
	Type             string `json:"type"`
	Specialty        string `json:"specialty"`
	SubSpecialty     string `json:"sub_specialty,omitempty"`
	Location         string `json:"location"`
	Website          string `json:"website"`
	SourceRow        Loose  `json:"source_row,omitempty"`
}

// Loose holds a JSON scalar that workflows send as either a number or a
// string.
type Loose string

// UnmarshalJSON accepts strings, numbers, and null.
func (l *Loose) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Loose(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = Loose(n.String())
	return nil
}

// MarshalJSON emits numbers unquoted.
func (l Loose) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(l), 64); err == nil {
		return []byte(l), nil
	}
	return json.Marshal(string(l))
}

// Found reports whether the result should be rendered as cards.
func (r *Result) Found() bool {
	return r != nil && r.Outcome != OutcomeNotFound && len(r.Recommendations) > 0
}
