// Package services contains HTTP clients for the external collaborators:
// the two streaming providers and the language-model completion API.
//
// Provider clients implement the [Provider] capability interface. They are
// deliberately thin: no retries, no rate limiting, no token storage. Those
// policies live in the gateway so both dialects share one failure model.
package services
