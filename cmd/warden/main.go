// Warden is an inline web application firewall that learns.
//
// It sits in front of an HTTP backend, enforces a live rule generation
// on every request, samples blocked and suspicious traffic, and on a
// schedule drafts new rules with an LLM, verifies them by replaying
// labeled traffic, and atomically publishes the ones that pass.
//
// Usage:
//
//	# Start with a config file
//	warden run --config /etc/warden/warden.yaml
//
//	# Validate a config file
//	warden validate --config /etc/warden/warden.yaml
package main

func main() {
	Execute()
}
