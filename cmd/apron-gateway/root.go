// cmd/apron-gateway/root.go
// Root command for the `apron-gateway` binary. Wires the --config flag,
// global logger initialisation, and the start/version sub-commands defined
// in sibling files. Grounded on cmd/flarego/root.go's cobra.OnInitialize +
// PersistentPreRunE logger-init pattern.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apron-network/apron-gateway-go/internal/logging"
)

var (
	cfgFile string
	logJSON bool

	rootCmd = &cobra.Command{
		Use:   "apron-gateway",
		Short: "Apron peer-to-peer API gateway",
		Long:  "apron-gateway runs one symmetric node of a peer-to-peer API gateway mesh, acting as both client-side and service-side gateway.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logging.Initialised() {
				return nil
			}
			return initLogger()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (YAML/TOML/JSON)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Enable JSON log output (default is human-friendly console)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func initLogger() error {
	cfg := zap.NewProductionConfig()
	if !logJSON {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zap.TimeEncoder(func(t time.Time, enc zap.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	})

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "apron-gateway: logger init failed:", err)
		return err
	}
	logging.Set(logger)
	return nil
}
