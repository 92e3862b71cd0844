// Command canvas serves live canvas surfaces to agents and displays.
//
// Usage:
//
//	canvas serve                           # viewer on :8080, MCP over stdio
//	canvas serve --mcp-transport http      # MCP on /mcp of the viewer server
//	canvas serve --mcp-transport quic --quic-addr :9444
//	canvas surfaces                        # list stored surfaces as JSON
//	canvas version
//
// Every flag can also be set as CANVAS_<FLAG> in the environment or in a
// .env file, e.g. CANVAS_PERSISTENCE_BACKEND=bolt.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
