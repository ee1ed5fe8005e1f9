// Package httputil provides shared HTTP response helpers for the operator
// API. All handlers return JSON envelopes through these helpers so error
// shapes stay uniform across endpoints.
package httputil
