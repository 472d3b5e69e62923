package kv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/cmd/util"
	"github.com/ValentinKolb/mcKV/memcached/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for mcKV servers",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of connections to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one test of the perf command
type benchmark struct {
	name string
	// prepare runs once before the test with its keys
	prepare func(c *client.Client, keys []string) error
	op      func(c *client.Client, key string, i int) error
}

var perfValue = []byte("test")

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for mcKV servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(c *client.Client, keys []string) error {
		for _, k := range keys {
			if _, err := c.Set(context.Background(), client.Item{Key: k, Value: perfValue}); err != nil {
				return err
			}
		}
		return nil
	}

	benchmarks := []benchmark{
		{name: "set", op: func(c *client.Client, key string, _ int) error {
			_, err := c.Set(context.Background(), client.Item{Key: key, Value: perfValue})
			return err
		}},
		{name: "set-large", op: func(c *client.Client, key string, _ int) error {
			_, err := c.Set(context.Background(), client.Item{Key: key, Value: largeValue})
			return err
		}},
		{name: "get", prepare: fill, op: func(c *client.Client, key string, _ int) error {
			_, err := c.Get(context.Background(), key)
			return err
		}},
		{name: "get-miss", op: func(c *client.Client, key string, _ int) error {
			if _, err := c.Get(context.Background(), key); err != nil && !isNotFound(err) {
				return err
			}
			return nil
		}},
		{name: "incr", op: func(c *client.Client, key string, _ int) error {
			_, err := c.Increment(context.Background(), key, 1, 0, 0)
			return err
		}},
		{name: "mixed", prepare: fill, op: func(c *client.Client, key string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				_, err = c.Set(context.Background(), client.Item{Key: key, Value: perfValue})
			case 1:
				_, err = c.Get(context.Background(), key)
			case 2:
				err = c.Delete(context.Background(), key, 0)
			case 3:
				err = c.Touch(context.Background(), key, 60)
			}
			if isNotFound(err) {
				return nil
			}
			return err
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		result := runBenchmark(bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs one test with a client per goroutine
func runBenchmark(bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}
		keys := getKeys(bm.name)

		setup, err := util.Dial()
		if err != nil {
			log.Printf("(%s) - error connecting: %v\n", bm.name, err)
			return
		}

		// cleanup
		b.Cleanup(func() {
			defer setup.Close()
			for _, k := range keys {
				if err := setup.Delete(context.Background(), k, 0); err != nil && !isNotFound(err) {
					log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
				}
			}
		})

		if bm.prepare != nil {
			if err := bm.prepare(setup, keys); err != nil {
				log.Printf("(%s) - error preparing keys: %v\n", bm.name, err)
				return
			}
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			c, err := util.Dial()
			if err != nil {
				log.Printf("(%s) - error connecting: %v\n", bm.name, err)
				return
			}
			defer c.Close()

			counter := 0
			for pb.Next() {
				if err := bm.op(c, keys[counter%len(keys)], counter); err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func isNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound)
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, max(perfKeySpread, 1))
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config util.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Timeout", "Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			config.Timeout.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
