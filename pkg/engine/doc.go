// Package engine evaluates a captured request against one rule generation.
//
// Evaluation is a pure function of (input, generation): phases run in fixed
// order (request-headers, then request-body), rules within a phase in
// creation order, and the first matching deny rule wins — once a block
// decision is made no further inspection changes it. A rule that exceeds
// its evaluation budget or panics is skipped for that request and reported
// through the engine's hooks; evaluation continues with the remaining rules.
package engine
