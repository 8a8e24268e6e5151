package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/getmockd/gqlws/pkg/stream"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
)

// ResolveParams is passed to root field resolvers.
type ResolveParams struct {
	// Field is the selected field, including its sub-selection.
	Field *ast.Field
	// Args are the field arguments with variables substituted.
	Args map[string]interface{}
	// Variables are the coerced operation variables.
	Variables map[string]interface{}
}

// ResolveFunc resolves a Query or Mutation root field.
type ResolveFunc func(ctx context.Context, p ResolveParams) (interface{}, error)

// SubscribeFunc resolves a Subscription root field into a stream of values.
// The stream is terminated when the subscription ends.
type SubscribeFunc func(ctx context.Context, p ResolveParams) (*stream.Stream[interface{}], error)

// Resolvers holds the Go functions backing a schema's root fields.
type Resolvers struct {
	// Fields maps field paths (e.g., "Query.user", "Mutation.createUser") to resolvers.
	Fields map[string]ResolveFunc
	// Subscriptions maps subscription fields ("Subscription.messageAdded" or
	// just "messageAdded") to stream resolvers.
	Subscriptions map[string]SubscribeFunc
}

// SchemaExecutor executes GraphQL operations against a schema and a set of
// root field resolvers.
type SchemaExecutor struct {
	schema        *Schema
	fields        map[string]ResolveFunc
	subscriptions map[string]SubscribeFunc
}

var _ Executor = (*SchemaExecutor)(nil)

// NewExecutor creates a new GraphQL executor with the given schema and resolvers.
func NewExecutor(schema *Schema, resolvers Resolvers) *SchemaExecutor {
	e := &SchemaExecutor{
		schema:        schema,
		fields:        make(map[string]ResolveFunc, len(resolvers.Fields)),
		subscriptions: make(map[string]SubscribeFunc, len(resolvers.Subscriptions)),
	}

	for path, fn := range resolvers.Fields {
		e.fields[ParseFieldPath(path).String()] = fn
	}
	// Index subscriptions by full path so bare field names work too
	for path, fn := range resolvers.Subscriptions {
		fp := ParseFieldPath(path)
		if fp.TypeName == "" {
			fp.TypeName = "Subscription"
		}
		e.subscriptions[fp.String()] = fn
	}

	return e
}

// Execute executes a query or mutation and returns a response.
func (e *SchemaExecutor) Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse {
	doc, op, vars, errs := e.prepare(req)
	if len(errs) > 0 {
		return &GraphQLResponse{Errors: errs}
	}

	if op.Operation == ast.Subscription {
		return ErrorResponse("subscription operations must be sent as a subscription")
	}

	data, fieldErrs, nullRoot := e.executeSelectionSet(ctx, doc, op, vars)
	resp := &GraphQLResponse{Errors: fieldErrs}
	if !nullRoot {
		resp.Data = data
	}
	return resp
}

// Subscribe starts a subscription. The returned channel carries one response
// per source event and is closed when the source ends or ctx is done.
func (e *SchemaExecutor) Subscribe(ctx context.Context, req *GraphQLRequest) *SubscriptionResult {
	doc, op, vars, errs := e.prepare(req)
	if len(errs) > 0 {
		return &SubscriptionResult{Errors: errs}
	}

	if op.Operation != ast.Subscription {
		return &SubscriptionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("operation is a %s, not a subscription", op.Operation)}}}
	}

	var field *ast.Field
	for _, sel := range expandSelections(doc, op.SelectionSet) {
		f, ok := sel.(*ast.Field)
		if !ok || f.Name == "__typename" {
			continue
		}
		if field != nil {
			return &SubscriptionResult{Errors: []GraphQLError{{Message: "subscription must select exactly one top-level field"}}}
		}
		field = f
	}
	if field == nil {
		return &SubscriptionResult{Errors: []GraphQLError{{Message: "subscription must select exactly one top-level field"}}}
	}

	path := FieldPath{TypeName: "Subscription", FieldName: field.Name}.String()
	subscribe, ok := e.subscriptions[path]
	if !ok {
		return &SubscriptionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("no subscription resolver for %q", field.Name)}}}
	}

	alias := fieldAlias(field)
	source, err := e.callSubscribe(ctx, subscribe, ResolveParams{
		Field:     field,
		Args:      field.ArgumentMap(vars),
		Variables: vars,
	})
	if err != nil {
		return &SubscriptionResult{Errors: []GraphQLError{fieldError(err, alias)}}
	}

	events := make(chan *GraphQLResponse)
	go e.pump(ctx, doc, field, source, events)

	return &SubscriptionResult{Events: events}
}

// pump forwards source values as responses until either side ends.
func (e *SchemaExecutor) pump(ctx context.Context, doc *ast.QueryDocument, field *ast.Field, source *stream.Stream[interface{}], events chan<- *GraphQLResponse) {
	defer close(events)
	defer source.Terminate()

	alias := fieldAlias(field)
	for {
		value, ok := source.Next(ctx)
		if !ok {
			if err := source.Err(); err != nil && ctx.Err() == nil {
				select {
				case events <- &GraphQLResponse{Errors: []GraphQLError{fieldError(err, alias)}}:
				case <-ctx.Done():
				}
			}
			return
		}

		resp := &GraphQLResponse{
			Data: map[string]interface{}{alias: project(doc, field.SelectionSet, value)},
		}
		select {
		case events <- resp:
		case <-ctx.Done():
			return
		}
	}
}

// callSubscribe invokes a subscription resolver, converting a panic into an error.
func (e *SchemaExecutor) callSubscribe(ctx context.Context, fn SubscribeFunc, p ResolveParams) (s *stream.Stream[interface{}], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscription resolver panicked: %v", r)
		}
	}()
	s, err = fn(ctx, p)
	if err == nil && s == nil {
		err = fmt.Errorf("subscription resolver returned no stream")
	}
	return s, err
}

// prepare parses and validates the request, selects the operation and
// coerces its variables.
func (e *SchemaExecutor) prepare(req *GraphQLRequest) (*ast.QueryDocument, *ast.OperationDefinition, map[string]interface{}, []GraphQLError) {
	if req == nil || req.Query == "" {
		return nil, nil, nil, []GraphQLError{{Message: "query is required"}}
	}

	doc, errs := gqlparser.LoadQuery(e.schema.AST(), req.Query)
	if len(errs) > 0 {
		return nil, nil, nil, convertErrors(errs)
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, nil, nil, []GraphQLError{{Message: err.Error()}}
	}

	vars, err := validator.VariableValues(e.schema.AST(), op, req.Variables)
	if err != nil {
		return nil, nil, nil, []GraphQLError{toGraphQLError(err)}
	}

	return doc, op, vars, nil
}

// selectOperation finds the operation to run in a document.
func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, fmt.Errorf("operation %q not found", name)
		}
		return op, nil
	}

	switch len(doc.Operations) {
	case 0:
		return nil, fmt.Errorf("no operation found in query")
	case 1:
		return doc.Operations[0], nil
	default:
		return nil, fmt.Errorf("operation name is required when the document contains multiple operations")
	}
}

// executeSelectionSet resolves every root field of op. nullRoot reports that
// a non-null root field failed, so data must be omitted.
func (e *SchemaExecutor) executeSelectionSet(ctx context.Context, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]interface{}) (map[string]interface{}, []GraphQLError, bool) {
	root := e.schema.RootType(op.Operation)
	if root == nil {
		return nil, []GraphQLError{{Message: fmt.Sprintf("schema does not support %s operations", op.Operation)}}, true
	}

	result := make(map[string]interface{})
	var fieldErrs []GraphQLError
	nullRoot := false
	resolved := 0

	for _, sel := range expandSelections(doc, op.SelectionSet) {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		alias := fieldAlias(field)

		if field.Name == "__typename" {
			result[alias] = root.Name
			resolved++
			continue
		}

		value, err := e.resolveField(ctx, root.Name, field, vars)
		if err != nil {
			fieldErrs = append(fieldErrs, fieldError(err, alias))
			result[alias] = nil
			if field.Definition != nil && field.Definition.Type.NonNull {
				nullRoot = true
			}
			continue
		}
		result[alias] = project(doc, field.SelectionSet, value)
		resolved++
	}

	if resolved == 0 && len(fieldErrs) > 0 {
		nullRoot = true
	}
	return result, fieldErrs, nullRoot
}

// resolveField resolves a single root field, converting a panic into an error.
func (e *SchemaExecutor) resolveField(ctx context.Context, typeName string, field *ast.Field, vars map[string]interface{}) (value interface{}, err error) {
	resolve, ok := e.fields[FieldPath{TypeName: typeName, FieldName: field.Name}.String()]
	if !ok {
		// No resolver configured - return null
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("resolver panicked: %v", r)
		}
	}()

	return resolve(ctx, ResolveParams{
		Field:     field,
		Args:      field.ArgumentMap(vars),
		Variables: vars,
	})
}

// expandSelections expands fragment spreads in a selection set to their field definitions.
func expandSelections(doc *ast.QueryDocument, selections ast.SelectionSet) ast.SelectionSet {
	if doc == nil {
		return selections
	}

	var expanded ast.SelectionSet
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			expanded = append(expanded, s)
		case *ast.FragmentSpread:
			if frag := doc.Fragments.ForName(s.Name); frag != nil {
				expanded = append(expanded, expandSelections(doc, frag.SelectionSet)...)
			}
		case *ast.InlineFragment:
			expanded = append(expanded, expandSelections(doc, s.SelectionSet)...)
		}
	}
	return expanded
}

// project shapes a resolved value to the client's selection set.
func project(doc *ast.QueryDocument, selections ast.SelectionSet, value interface{}) interface{} {
	if value == nil || len(selections) == 0 {
		return value
	}

	switch v := normalize(value).(type) {
	case map[string]interface{}:
		out := make(map[string]interface{})
		for _, sel := range expandSelections(doc, selections) {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			alias := fieldAlias(field)
			if field.Name == "__typename" {
				if field.ObjectDefinition != nil {
					out[alias] = field.ObjectDefinition.Name
				}
				continue
			}
			out[alias] = project(doc, field.SelectionSet, v[field.Name])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = project(doc, selections, item)
		}
		return out
	default:
		return v
	}
}

// normalize turns structs, typed slices and typed maps into their generic
// JSON representation so they can be projected.
func normalize(value interface{}) interface{} {
	switch value.(type) {
	case map[string]interface{}, []interface{}:
		return value
	}

	rv := reflect.Indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
	default:
		return value
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return value
	}
	return generic
}

func fieldAlias(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

// fieldError converts a resolver error into a GraphQL error at the given path.
func fieldError(err error, alias string) GraphQLError {
	var gqlErr GraphQLError
	if errors.As(err, &gqlErr) {
		if gqlErr.Path == nil {
			gqlErr.Path = []interface{}{alias}
		}
		return gqlErr
	}
	return GraphQLError{Message: err.Error(), Path: []interface{}{alias}}
}

// convertErrors converts gqlparser errors to the response format.
func convertErrors(errs gqlerror.List) []GraphQLError {
	out := make([]GraphQLError, 0, len(errs))
	for _, err := range errs {
		out = append(out, fromGQLError(err))
	}
	return out
}

func toGraphQLError(err error) GraphQLError {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return fromGQLError(gqlErr)
	}
	return GraphQLError{Message: err.Error()}
}

func fromGQLError(err *gqlerror.Error) GraphQLError {
	out := GraphQLError{
		Message:    err.Message,
		Extensions: err.Extensions,
	}
	for _, loc := range err.Locations {
		out.Locations = append(out.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
	}
	for _, elem := range err.Path {
		switch p := elem.(type) {
		case ast.PathName:
			out.Path = append(out.Path, string(p))
		case ast.PathIndex:
			out.Path = append(out.Path, int(p))
		}
	}
	return out
}
