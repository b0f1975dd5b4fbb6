// Package health tracks the health of the running mediacompose units and
// aggregates them into a single report for the /health endpoint.
//
// Each unit reports through a Monitor under its own name. Aggregation is
// pessimistic: one unhealthy unit makes the whole report unhealthy, and one
// degraded unit makes it degraded. Error text is scrubbed of URLs, paths,
// addresses and credentials before it leaves the process.
package health
