// Package config provides the server configuration for gqlws.
//
// A ServerConfig is loaded from a JSON or YAML file; the format is chosen by
// file extension (.yaml and .yml are YAML, anything else is JSON). Fields that
// are absent keep their defaults:
//
//	listen: ":4000"
//	websocketPath: /graphql
//	metricsPath: /metrics
//	keepAlive: 12s
//	connectionInitTimeout: 3s
//	protocols: [graphql-transport-ws, graphql-ws]
//	log:
//	  level: info
//	  format: text
//
// Durations are Go duration strings. A zero keepAlive or
// connectionInitTimeout disables the corresponding timer.
//
// Documents are checked against Schema before the values are validated, so
// unknown keys are errors rather than silently ignored.
package config
