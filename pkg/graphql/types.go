package graphql

import (
	"context"
)

// Executor is the GraphQL service the subscription engine delegates to.
// Implementations must be safe for concurrent use.
type Executor interface {
	// Execute runs a query or mutation to completion.
	Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse
	// Subscribe starts a subscription. The event source must stop and close
	// its channel once ctx is done.
	Subscribe(ctx context.Context, req *GraphQLRequest) *SubscriptionResult
}

// SubscriptionResult is returned by Executor.Subscribe.
type SubscriptionResult struct {
	// Events delivers one response per subscription event. It is closed when
	// the source ends.
	Events <-chan *GraphQLResponse
	// Errors is set when the subscription could not be started, for example
	// because the document failed validation. Events is nil in that case.
	Errors []GraphQLError
}

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Error implements the error interface.
func (e GraphQLError) Error() string {
	return e.Message
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	// Line is the line number (1-indexed).
	Line int `json:"line"`
	// Column is the column number (1-indexed).
	Column int `json:"column"`
}

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
	// Extensions carries protocol extensions sent by the client.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
// A nil Data is omitted from the encoded payload.
type GraphQLResponse struct {
	// Data contains the result of the query execution.
	Data interface{} `json:"data,omitempty"`
	// Errors contains any errors that occurred during execution.
	Errors []GraphQLError `json:"errors,omitempty"`
	// Extensions contains additional response metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ErrorResponse builds a response carrying only the given messages as errors.
func ErrorResponse(messages ...string) *GraphQLResponse {
	errs := make([]GraphQLError, len(messages))
	for i, msg := range messages {
		errs[i] = GraphQLError{Message: msg}
	}
	return &GraphQLResponse{Errors: errs}
}

// FieldPath represents a path to a field in the schema (e.g., "Query.user" or "Mutation.createUser").
type FieldPath struct {
	// TypeName is the parent type name (e.g., "Query", "Mutation", "Subscription").
	TypeName string
	// FieldName is the field name.
	FieldName string
}

// String returns the string representation of the field path.
func (fp FieldPath) String() string {
	if fp.TypeName == "" {
		return fp.FieldName
	}
	return fp.TypeName + "." + fp.FieldName
}

// ParseFieldPath parses a field path string (e.g., "Query.user") into a FieldPath.
func ParseFieldPath(path string) FieldPath {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return FieldPath{
				TypeName:  path[:i],
				FieldName: path[i+1:],
			}
		}
	}
	// No dot found, treat the whole string as a field name
	return FieldPath{FieldName: path}
}
