// Package api serves the monitor's operational HTTP surface: a liveness
// check, the Prometheus scrape endpoint and a JSON status document.
package api
