package rule

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the on-disk and on-the-wire rule document format.
type File struct {
	// Rules lists rule specs in declaration order.
	Rules []Spec `yaml:"rules"`
}

// DecodeSpecs parses a rule document. Decode is strict: unknown fields are
// rejected so a typo in a rule file (or in LLM output) fails loudly instead
// of silently weakening a rule.
func DecodeSpecs(source string, data []byte) ([]Spec, error) {
	var f File
	dec := newStrictDecoder(data)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty document: no rules.
			return nil, nil
		}
		return nil, &DecodeError{Source: source, Cause: err}
	}
	return f.Rules, nil
}

// EncodeSpecs serializes specs into the rule document format.
func EncodeSpecs(specs []Spec) ([]byte, error) {
	return yaml.Marshal(File{Rules: specs})
}

// CompileSpecs compiles every spec, returning the compiled rules and the
// per-spec compile errors. Specs that fail are dropped, never partially
// included; callers decide whether any failure is fatal.
func CompileSpecs(specs []Spec, prov Provenance, sourceIncident string) ([]*Rule, []error) {
	rules := make([]*Rule, 0, len(specs))
	var errs []error
	for _, s := range specs {
		r, err := s.Compile(prov, sourceIncident)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs
}

// newStrictDecoder builds a YAML decoder that rejects unknown fields.
func newStrictDecoder(data []byte) *yaml.Decoder {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec
}
