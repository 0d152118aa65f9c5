package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	_ = flag.Set("logtostderr", "true")

	err := newRootCmd().Execute()
	if cerr := closeRegistry(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
