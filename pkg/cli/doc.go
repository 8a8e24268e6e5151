// Package cli provides the command-line interface for gqlws.
//
// Commands:
//   - serve: Run the GraphQL WebSocket server with the demo chat schema
//   - subscribe: Connect to a server, run one operation and print its results
//   - config: Validate and print configuration files and their JSON Schema
//   - version: Show gqlws version
//
// Every command is a cobra command attached to the root in its own init
// function; Execute runs the root and Main returns its exit code.
package cli
