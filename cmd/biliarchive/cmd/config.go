package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/biliarchive/biliarchive/internal/config"
	"github.com/biliarchive/biliarchive/pkg/bytesize"
	"github.com/biliarchive/biliarchive/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing biliarchive configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  biliarchive config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in the working directory, ./configs, or /etc/biliarchive)
  - Environment variables (BILIARCHIVE_REMOTE_BASE_URL, BILIARCHIVE_DATABASE_PATH, etc.)
  - Command-line flags (for a handful of common options)

Environment variables use the BILIARCHIVE_ prefix and underscores for nesting.
Example: remote.rate_limit_per_second -> BILIARCHIVE_REMOTE_RATE_LIMIT_PER_SECOND`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and byte sizes for
// human readability instead of dumping raw nanoseconds/bytes.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		case config.Duration:
			result[key] = duration.Format(time.Duration(fv))
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(fv))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# biliarchive configuration file")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides use the BILIARCHIVE_ prefix, e.g.")
	fmt.Println("#   BILIARCHIVE_REMOTE_BASE_URL, BILIARCHIVE_DATABASE_PATH")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
