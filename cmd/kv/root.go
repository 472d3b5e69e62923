package kv

import (
	"context"

	"github.com/ValentinKolb/mcKV/cmd/util"
	"github.com/ValentinKolb/mcKV/memcached/client"
	"github.com/spf13/cobra"
)

var (
	mcClient *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform cache operations over the memcached binary protocol",
		PersistentPreRunE: setupKVClient,
		PersistentPostRun: func(*cobra.Command, []string) {
			if mcClient != nil {
				_ = mcClient.Close()
			}
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitEnv)

	// Add connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(appendCmd)
	KeyValueCommands.AddCommand(prependCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(decrCmd)
	KeyValueCommands.AddCommand(touchCmd)
	KeyValueCommands.AddCommand(flushCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(versionCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient connects the client used by the subcommands
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	// perf connects one client per worker
	if cmd == perfTestCmd {
		return nil
	}

	var err error
	mcClient, err = util.Dial()
	return err
}

// requestContext bounds a single cli request by the client timeout
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), util.GetClientConfig().Timeout)
}
