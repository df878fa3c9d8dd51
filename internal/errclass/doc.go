// Package errclass normalizes transport and API failures into a closed,
// stable error taxonomy.
//
// Both the event-channel connection and the HTTP request pipeline report
// failures through this package, so downstream consumers (UI, CLI,
// telemetry) handle a single failure vocabulary and never branch on raw
// transport errors.
package errclass
