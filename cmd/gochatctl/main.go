// Command gochatctl administers a gochatd credential store file directly,
// without going through the wire protocol.
package main

import "github.com/dantte-lp/gochatd/cmd/gochatctl/commands"

func main() {
	commands.Execute()
}
