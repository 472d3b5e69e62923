package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/mcKV/cmd/kv"
	"github.com/ValentinKolb/mcKV/cmd/serve"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/spf13/cobra"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mckv",
		Short: "memcached binary protocol server with local and replicated storage",
		Long: fmt.Sprintf(`mcKV (v%s)

A memcached compatible cache server written in Go. Clients speak the memcached
binary protocol, items are kept in process or replicated with RAFT.`, common.Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcKV v%s\n", common.Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
