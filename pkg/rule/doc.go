// Package rule defines the rule and rule-generation data model used by the
// enforcement engine and the rule lifecycle.
//
// A Rule is an immutable, compiled predicate with an action (deny, log,
// allow-with-tag) and a phase (request-headers or request-body). Rules are
// authored or synthesized as Specs (the YAML wire form) and compiled into
// Rules via Spec.Compile; anything that does not compile never enters a
// generation.
//
// A RuleSet is one generation: an ordered, phase-grouped sequence of rules
// with a monotonically increasing generation number, a fingerprint, and a
// lifecycle status (draft, verifying, verified, live, retired). Generations
// are never mutated in place; every change to the enforced rules is a new
// generation.
package rule
