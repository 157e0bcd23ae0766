package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one bookchain command line and always releases the database.
func run(args []string, in io.Reader, out, errOut io.Writer) error {
	a := &app{}
	defer func() {
		if a.mgr != nil {
			a.mgr.Close()
		}
	}()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.Execute()
}
