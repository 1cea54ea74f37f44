// Command csvsink loads CSV objects announced by storage notifications into
// a relational database, one transaction per object.
package main

import (
	"os"
)

func main() {
	root := newRootCmd()

	// Inside Lambda the bootstrap runs the binary without arguments.
	if len(os.Args) == 1 && os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		root.SetArgs([]string{"lambda"})
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
