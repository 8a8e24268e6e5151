// gqlws serves GraphQL subscriptions over WebSocket.
package main

import "github.com/getmockd/gqlws/pkg/cli"

func main() {
	cli.Execute()
}
