package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/mcKV/memcached/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (MCKV_<FLAG>)
	EnvPrefix = "mckv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitEnv loads the env files and lets viper read MCKV_ environment variables
func InitEnv() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// ClientConfig holds the connection settings of the cli client
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

func (c ClientConfig) String() string {
	return fmt.Sprintf("  %-10s: %s\n  %-10s: %s", "Endpoint", c.Endpoint, "Timeout", c.Timeout)
}

// SetupClientFlags adds the connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "localhost:11211", WrapString("The address of the mcKV server (host:port or unix:///path/to/socket)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: viper.GetString("endpoint"),
		Timeout:  time.Duration(viper.GetInt("timeout")) * time.Second,
	}
}

// Dial connects a client with the configuration from viper
func Dial() (*client.Client, error) {
	config := GetClientConfig()
	return client.Dial(config.Endpoint, config.Timeout)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
