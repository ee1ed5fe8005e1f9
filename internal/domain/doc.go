// Package domain contains the core business entities shared across the
// monitor. Types here are pure data: no I/O, no external dependencies, no
// behavior beyond simple derivations. Services and repositories depend on
// domain, never the other way around.
package domain
