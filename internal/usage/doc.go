// Package usage meters token consumption per verified subject.
//
// Two concerns live here: quota enforcement (a sliding-window budget
// checked before the engine is reached, answered with 429 when exhausted)
// and usage recording (an OpenTelemetry counter attributed by user,
// direction, and model). Token counts are estimated at four bytes per
// token; the meter backend is in-process for a single gateway or Redis
// when replicas must share a budget.
package usage
