package verify

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/sampler"
)

// requestSpec is the YAML shape of a corpus request.
type requestSpec struct {
	Method   string            `yaml:"method"`
	Path     string            `yaml:"path"`
	Query    string            `yaml:"query,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Body     string            `yaml:"body,omitempty"`
	ClientIP string            `yaml:"client_ip,omitempty"`
}

type corpusFile struct {
	Requests []requestSpec `yaml:"requests"`
}

// LoadCorpusFile reads a YAML file of requests, typically the held-out
// known-good corpus sampled from production traffic.
func LoadCorpusFile(path string) ([]rule.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verify: read corpus %q: %w", path, err)
	}

	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("verify: parse corpus %q: %w", path, err)
	}

	inputs := make([]rule.Input, 0, len(file.Requests))
	for _, spec := range file.Requests {
		method := spec.Method
		if method == "" {
			method = http.MethodGet
		}
		header := make(http.Header, len(spec.Headers))
		for name, value := range spec.Headers {
			header.Set(name, value)
		}
		inputs = append(inputs, rule.Input{
			Method:   method,
			Path:     spec.Path,
			RawQuery: spec.Query,
			Header:   header,
			Body:     []byte(spec.Body),
			ClientIP: spec.ClientIP,
		})
	}
	return inputs, nil
}

// InputFromIncident rebuilds the matcher input of a sampled incident for
// replay.
func InputFromIncident(inc *sampler.Incident) rule.Input {
	return rule.Input{
		Method:   inc.Method,
		Path:     inc.Path,
		RawQuery: inc.RawQuery,
		Header:   inc.Header,
		Body:     inc.BodyPrefix,
		ClientIP: inc.ClientIP,
	}
}
