package subprotocol

import (
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// Operation types as they appear in a GraphQL document.
const (
	OperationQuery        = ast.Query
	OperationMutation     = ast.Mutation
	OperationSubscription = ast.Subscription
)

// OperationType parses query and reports the type of the operation it would
// run. Picking between several operations without a name is left to the
// executor, so such documents report OperationQuery unless every operation
// has the same type.
func OperationType(query, operationName string) (ast.Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: query})
	if err != nil {
		var gqlErr *gqlerror.Error
		if errors.As(err, &gqlErr) {
			return "", errors.New(gqlErr.Message)
		}
		return "", err
	}

	if operationName != "" {
		if op := doc.Operations.ForName(operationName); op != nil {
			return op.Operation, nil
		}
		return OperationQuery, nil
	}

	if len(doc.Operations) == 0 {
		return OperationQuery, nil
	}
	first := doc.Operations[0].Operation
	for _, op := range doc.Operations[1:] {
		if op.Operation != first {
			return OperationQuery, nil
		}
	}
	return first, nil
}
