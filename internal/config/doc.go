// Package config loads Cognition's layered server configuration.
//
// Sources are applied in priority order, lowest first:
//
//  1. Built-in defaults (DefaultServerConfig).
//  2. Global YAML file (~/.config/cognition/cognition.yaml).
//  3. Project YAML file (<workspace>/.cognition/cognition.yaml).
//  4. Environment variables (COGNITION_*).
//
// CLI flags, layered on top of all of these, are applied by cmd/cognition-server
// itself rather than by this package, since flag parsing is explicitly an
// ambient (not core) concern.
package config
