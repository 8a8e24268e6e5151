// Package id generates the identifiers used across the server: connection ids
// handed out on upgrade and process-unique sequence numbers for hub consumers.
package id
