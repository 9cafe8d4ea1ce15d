// Command calorily runs the meal log server and offers a few maintenance
// commands against the same database.
//
//	calorily serve                  # HTTP API, inbox watcher, orphan sweeper
//	calorily meals today            # list today's meals
//	calorily meals add --name ...   # log a meal by hand
//	calorily sweep                  # delete unreferenced images
//	calorily token                  # mint an API token
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
