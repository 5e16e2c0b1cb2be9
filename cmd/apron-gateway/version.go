// cmd/apron-gateway/version.go
// Implements the `apron-gateway version` sub-command, printing the build
// metadata pkg/version carries.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apron-network/apron-gateway-go/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print apron-gateway build metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current()
			if !outputJSON {
				fmt.Println(version.String())
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print version information as JSON")
	return cmd
}
