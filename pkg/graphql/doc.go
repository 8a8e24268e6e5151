// Package graphql defines the GraphQL collaborator contracts consumed by the
// subscription engine, plus a schema-driven reference implementation.
//
// The engine never parses or executes GraphQL itself. It hands requests to an
// Executor:
//
//	type Executor interface {
//	    Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse
//	    Subscribe(ctx context.Context, req *GraphQLRequest) *SubscriptionResult
//	}
//
// SchemaExecutor implements Executor on top of gqlparser. Root fields are
// resolved by Go functions keyed by field path:
//
//	schema, err := graphql.ParseSchema(`
//	    type Query { hello: String! }
//	    type Subscription { tick(count: Int!): Int! }
//	`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exec := graphql.NewExecutor(schema, graphql.Resolvers{
//	    Fields: map[string]graphql.ResolveFunc{
//	        "Query.hello": func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
//	            return "world", nil
//	        },
//	    },
//	    Subscriptions: map[string]graphql.SubscribeFunc{
//	        "Subscription.tick": tick,
//	    },
//	})
//
// Subscription resolvers return a *stream.Stream; SchemaExecutor pumps its
// values onto the SubscriptionResult channel until the request context ends,
// then terminates the stream so that whatever feeds it (a broadcast hub
// subscription, a ticker) is released.
package graphql
