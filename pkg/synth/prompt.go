package synth

import (
	"fmt"
	"strings"

	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/sampler"
	"warden-hq/warden/pkg/vecstore"
)

// systemPrompt fixes the model's role and the output contract. The reply
// must be a bare YAML document in the rule grammar; anything else fails
// the strict decode and is discarded.
const systemPrompt = `You are a web application firewall rule author.
Given a cluster of hostile HTTP requests, write detection rules as a YAML
document with this exact shape and nothing else (no prose, no fences):

rules:
  - id: <optional stable id>
    description: <one line>
    phase: request-headers | request-body
    action: deny | log | allow-with-tag
    status_code: <deny status, default 403>
    match:
      - target: method | path | query | header | body | client_ip
        header: <required when target is header>
        operator: equals | contains | prefix | suffix | regex
        value: <pattern>
        case_sensitive: false

Rules must match the attack traffic shown and must not match ordinary
traffic. Prefer narrow path/query patterns over broad regexes. Regular
expressions use RE2 syntax.`

// buildUserPrompt renders one cluster of incidents plus retrieved
// exemplar rules into the user message.
func buildUserPrompt(cluster []sampler.Incident, exemplars []vecstore.Match) string {
	var b strings.Builder

	b.WriteString("Hostile requests observed (one per line):\n")
	for _, inc := range cluster {
		fmt.Fprintf(&b, "- %s", inc.Text())
		if inc.Repeats > 0 {
			fmt.Fprintf(&b, " (repeated %d times)", inc.Repeats)
		}
		b.WriteByte('\n')
	}

	if len(exemplars) > 0 {
		b.WriteString("\nExisting rules that caught similar traffic, for style and overlap:\n")
		for _, m := range exemplars {
			fmt.Fprintf(&b, "%s\n", m.Document.Text)
		}
	}

	b.WriteString("\nWrite the YAML rules document now.")
	return b.String()
}

// specText renders a compiled rule back to YAML for exemplar storage.
func specText(r *rule.Rule) string {
	data, err := rule.EncodeSpecs([]rule.Spec{r.Spec})
	if err != nil {
		return ""
	}
	return string(data)
}
