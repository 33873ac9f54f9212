// The main package for the zeroweb executable.
package main

import (
	"github.com/zerolabs/zeroweb/cmd"
)

func main() {
	cmd.Execute()
}
