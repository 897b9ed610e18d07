package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/pkg/duration"
	"github.com/lightnvr/lightnvr/pkg/format"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing lightnvr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  lightnvr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ./, ./configs, /etc/lightnvr, $HOME/.lightnvr)
  - Environment variables (LIGHTNVR_SERVER_PORT, LIGHTNVR_DATABASE_PATH, etc.)
  - Command-line flags (log level/format, --config)

Environment variables use the LIGHTNVR_ prefix and underscores for nesting.
Example: server.port -> LIGHTNVR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// stringer is satisfied by config.Duration and config.ByteSize, whose
// String() already renders the human-readable form ("30d", "5GB").
type stringer interface {
	String() string
}

// toMap converts a struct to a map, formatting durations and sizes for
// human readability.
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

		if s, ok := field.Interface().(stringer); ok {
			result[key] = s.String()
			continue
		}

		switch iv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(iv)
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

	fmt.Println("# lightnvr Configuration File")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   LIGHTNVR_SERVER_HOST, LIGHTNVR_SERVER_PORT")
	fmt.Println("#   LIGHTNVR_DATABASE_PATH")
	fmt.Println("#   LIGHTNVR_STORAGE_ROOT")
	fmt.Println("#   LIGHTNVR_LOGGING_LEVEL, LIGHTNVR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))
	fmt.Println("#")
	fmt.Println("# retention.tick_cron:         " + format.CronDescription(cfg.Retention.TickCron))
	fmt.Println("# retention.orphan_sweep_cron: " + format.CronDescription(cfg.Retention.OrphanSweepCron))

	return nil
}
