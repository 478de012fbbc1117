// Package team runs a lead agent's teammates.
//
// Teammates are long-lived agent loops that share a Board of tasks and talk over a
// bus.Topic. A Coordinator keeps the control state they share: how to abort each one,
// which ones were asked to stop at the next iteration boundary, and the approval broker.
// A Runner drives a single teammate and always ends with a stopped member update and,
// unless the teammate was hard-aborted, a completion report addressed to the lead.
package team
