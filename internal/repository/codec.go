package repository

import (
	"encoding/json"
	"fmt"

	"github.com/stemsi/exstem-engine/internal/model"
)

// questionSet is the JSON document stored in assessments.questions.
type questionSet struct {
	Objective []model.ObjectiveQuestion `json:"objective,omitempty"`
	Theory    []model.TheoryQuestion    `json:"theory,omitempty"`
}

func encodeQuestions(a *model.Assessment) ([]byte, error) {
	return json.Marshal(questionSet{Objective: a.Objective, Theory: a.Theory})
}

func decodeQuestions(raw []byte, a *model.Assessment) error {
	var qs questionSet
	if err := json.Unmarshal(raw, &qs); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}
	a.Objective = qs.Objective
	a.Theory = qs.Theory
	return nil
}

func encodeRetakePolicy(p *model.RetakePolicy) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func decodeRetakePolicy(raw []byte) (*model.RetakePolicy, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	p := &model.RetakePolicy{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode retake policy: %w", err)
	}
	return p, nil
}
