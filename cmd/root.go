package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joaopedrotaveira/tsps/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tsps",
	Short: "tsps relays packets between a tunnel interface and remote clients.",
	Long: `tsps is a tunnel-broker server: it moves frames between a virtual TUN
interface and a UDP socket carrying encapsulated client traffic, in both
directions, through bounded per-direction packet queues.

Start it with 'tsps serve'.
`,
}

// ExecuteContext adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigFile, "config", "", "config file (default is $HOME/.tsps/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&config.Verbose, "verbose", "v", false, "enable verbose output")
}
