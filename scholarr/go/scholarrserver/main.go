// Command scholarrserver is the main Scholarr application. The different
// parts are run as sub-commands, see cmd.
package main

import (
	"github.com/scholarr/scholarr/scholarr/go/scholarrserver/cmd"
)

func main() {
	cmd.Execute()
}
