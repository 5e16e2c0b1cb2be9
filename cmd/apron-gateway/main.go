// cmd/apron-gateway/main.go
// Entrypoint for the `apron-gateway` binary. Kept minimal: all logic lives
// in root.go/start.go/version.go so the package stays testable without
// executing side effects on import. Grounded on cmd/flarego/main.go.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
