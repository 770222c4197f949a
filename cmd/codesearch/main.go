// Command codesearch harvests GitHub code search results beyond the
// 1000-results-per-query cap.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
