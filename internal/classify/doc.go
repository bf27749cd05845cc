// Package classify scores a railway incident notification against the
// notification standard. It extracts the structured components (train or
// service, status, contingency, declared time, route, structure code), runs
// the built-in checks on the Components, Timing and Structure axes and derives
// the per-axis grades, the finding buckets and the overall level.
//
// The package is pure: the same Input and Catalog always yield the same
// Result. Acceptance rules are layered on top by package rules, which calls
// Finalize after editing the findings.
package classify
