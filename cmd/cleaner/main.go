// Command cleaner runs one reconciliation pass and prints its summary.
//
//	cleaner run --mode deactivate --accounts 111111111111,222222222222
//	cleaner ledger 111111111111 --state pending_delete
package main

import (
	"fmt"
	"os"
)

func main() {
	code, err := execute(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
