// The main package for the marketscout executable.
package main

import (
	"github.com/JakeFAU/market-research-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
