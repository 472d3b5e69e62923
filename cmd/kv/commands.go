package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/mcKV/cmd/util"
	"github.com/ValentinKolb/mcKV/memcached/client"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	for _, cmd := range []*cobra.Command{setCmd, addCmd, replaceCmd} {
		cmd.Flags().Uint32("flags", 0, util.WrapString("Opaque flags stored with the item"))
		cmd.Flags().Uint32("exp", 0, util.WrapString("Expiration in seconds (up to 30 days) or as unix time, 0 means never"))
		cmd.Flags().Uint64("cas", 0, util.WrapString("Only write if the item still has this CAS token"))
	}
	delCmd.Flags().Uint64("cas", 0, util.WrapString("Only delete if the item still has this CAS token"))
	for _, cmd := range []*cobra.Command{incrCmd, decrCmd} {
		cmd.Flags().Uint64("initial", 0, util.WrapString("Value of a counter that does not exist yet"))
		cmd.Flags().Uint32("exp", 0, util.WrapString("Expiration of a created counter"))
		cmd.Flags().Bool("no-create", false, util.WrapString("Fail if the counter does not exist"))
	}
	flushCmd.Flags().Uint32("delay", 0, util.WrapString("Invalidate the items after this many seconds"))
}

// storeCommand creates the command of a storage opcode
func storeCommand(use, short string, write func(*client.Client, context.Context, client.Item) (uint64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()

			item := client.Item{
				Key:        args[0],
				Value:      []byte(args[1]),
				Flags:      viper.GetUint32("flags"),
				Expiration: viper.GetUint32("exp"),
				CAS:        viper.GetUint64("cas"),
			}
			cas, err := write(mcClient, ctx, item)
			if err != nil {
				return err
			}
			fmt.Printf("%s successfully (cas=%d)\n", use, cas)
			return nil
		},
	}
}

var (
	setCmd     = storeCommand("set", "Sets the value for a key", (*client.Client).Set)
	addCmd     = storeCommand("add", "Sets the value for a key that does not exist", (*client.Client).Add)
	replaceCmd = storeCommand("replace", "Sets the value for a key that exists", (*client.Client).Replace)
	appendCmd  = storeCommand("append", "Appends to the value of a key", (*client.Client).Append)
	prependCmd = storeCommand("prepend", "Prepends to the value of a key", (*client.Client).Prepend)

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			it, err := mcClient.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, flags=%d, cas=%d, value=%s\n", it.Key, it.Flags, it.CAS, it.Value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := mcClient.Delete(ctx, args[0], viper.GetUint64("cas")); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	incrCmd = arithmeticCommand("incr", "Increments a counter", (*client.Client).Increment)
	decrCmd = arithmeticCommand("decr", "Decrements a counter, it does not drop below zero", (*client.Client).Decrement)
	touchCmd = &cobra.Command{
		Use:   "touch [key] [exp]",
		Short: "Sets a new expiration for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("exp must be a number: %w", err)
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := mcClient.Touch(ctx, args[0], uint32(exp)); err != nil {
				return err
			}
			fmt.Println("touch successfully")
			return nil
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Invalidates all items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := mcClient.Flush(ctx, viper.GetUint32("delay")); err != nil {
				return err
			}
			fmt.Println("flush successfully")
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats [group]",
		Short: "Prints the statistics of the server (groups: settings, timings)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group := ""
			if len(args) == 1 {
				group = args[0]
			}
			ctx, cancel := requestContext()
			defer cancel()
			entries, err := mcClient.Stats(ctx, group)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-24s %s\n", e.Key, e.Value)
			}
			return nil
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the version of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			version, err := mcClient.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(version)
			return nil
		},
	}
)

func arithmeticCommand(use, short string, op func(*client.Client, context.Context, string, uint64, uint64, uint32) (uint64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [key] [delta]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be a number: %w", err)
			}
			exp := viper.GetUint32("exp")
			if viper.GetBool("no-create") {
				exp = protocol.NoAutoCreate
			}
			ctx, cancel := requestContext()
			defer cancel()
			value, err := op(mcClient, ctx, args[0], delta, viper.GetUint64("initial"), exp)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%d\n", args[0], value)
			return nil
		},
	}
}
