// Package request wraps outbound HTTP calls with request tagging,
// retry-with-backoff, and rate-limit surfacing.
//
// Every terminal failure is translated through errclass before it
// reaches the caller, so consumers only ever see the closed error
// taxonomy, never raw transport errors.
package request
