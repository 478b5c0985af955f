package checklist

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestions []byte

// Question is one checklist topic evaluated against a transcript
type Question struct {
	ID     int    `yaml:"id" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Intent string `yaml:"intent" json:"intent"`
}

// Checklist keeps the configured questions
type Checklist struct {
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
}

// Default returns the embedded checklist
func Default() (*Checklist, error) {
	return parse(defaultQuestions)
}

// Load reads checklist from yaml file, empty name loads the embedded default
func Load(file string) (*Checklist, error) {
	if file == "" {
		goapp.Log.Info().Msg("using embedded checklist")
		return Default()
	}
	goapp.Log.Info().Str("file", file).Msg("loading checklist")
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can't read checklist: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (*Checklist, error) {
	var res Checklist
	if err := yaml.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("can't parse checklist: %w", err)
	}
	if err := res.validate(); err != nil {
		return nil, err
	}
	if res.Name == "" {
		res.Name = "CallAuditReport"
	}
	return &res, nil
}

func (c *Checklist) validate() error {
	if len(c.Questions) == 0 {
		return errors.New("no checklist questions")
	}
	ids := map[int]bool{}
	for _, q := range c.Questions {
		if q.Title == "" {
			return errors.Errorf("no title for question %d", q.ID)
		}
		if ids[q.ID] {
			return errors.Errorf("duplicate question id %d", q.ID)
		}
		ids[q.ID] = true
	}
	return nil
}

// Schema returns json schema for the structured extraction result
func (c *Checklist) Schema() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	nullableNum := map[string]interface{}{"type": []string{"number", "null"}}
	evidence := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]interface{}{"quote": str, "start_sec": nullableNum, "end_sec": nullableNum},
		"required":             []string{"quote", "start_sec", "end_sec"},
	}
	question := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"id":              map[string]interface{}{"type": "integer"},
			"title":           str,
			"discussed":       map[string]interface{}{"type": "boolean"},
			"formal_response": str,
			"confidence":      map[string]interface{}{"type": "number"},
			"evidence":        map[string]interface{}{"type": "array", "items": evidence},
			"notes":           str,
		},
		"required": []string{"id", "title", "discussed", "formal_response", "confidence", "evidence", "notes"},
	}
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"call_summary":        str,
			"language_notes":      str,
			"questions":           map[string]interface{}{"type": "array", "items": question},
			"missing_topics":      map[string]interface{}{"type": "array", "items": str},
			"final_audit_summary": str,
		},
		"required": []string{"call_summary", "language_notes", "questions", "missing_topics", "final_audit_summary"},
	}
}
