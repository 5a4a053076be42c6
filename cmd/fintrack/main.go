// Command fintrack administers transactions, recurring templates and budgets
// directly against the configured backend.
package main

import (
	"context"
	"os"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
