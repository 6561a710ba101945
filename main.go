// The main package for the s3uploader executable.
package main

import (
	"github.com/JakeFAU/s3uploader/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
