// Package config loads the engine's ambient run configuration (worker
// capacity, log level/format) from flags, environment, and an optional
// .env file, via spf13/viper bound to spf13/cobra persistent flags —
// the same layering the divinesense binary uses.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the resolved run configuration.
type Config struct {
	Workers       int
	LogLevel      string
	LogJSON       bool
	CaptureOutput bool
}

// Bind registers the engine's persistent flags on cmd and binds them
// into v, mirroring divinesense's BindPFlag wiring.
func Bind(cmd *cobra.Command, v *viper.Viper) error {
	cmd.PersistentFlags().Int("workers", 4, "maximum number of concurrently active tasks")
	cmd.PersistentFlags().String("log-level", "info", `log level: "debug", "info", "warn", or "error"`)
	cmd.PersistentFlags().Bool("log-json", true, "emit structured JSON logs")
	cmd.PersistentFlags().Bool("capture-output", false, "capture and attribute each task's stdout/stderr instead of interleaving it live")

	for _, name := range []string{"workers", "log-level", "log-json", "capture-output"} {
		if err := v.BindPFlag(name, cmd.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix("taskforge")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return nil
}

// LoadDotEnv loads a .env file from the working directory, ignoring a
// missing file (matching divinesense's best-effort godotenv.Load call).
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Resolve reads the bound values out of v into a Config.
func Resolve(v *viper.Viper) Config {
	return Config{
		Workers:       v.GetInt("workers"),
		LogLevel:      v.GetString("log-level"),
		LogJSON:       v.GetBool("log-json"),
		CaptureOutput: v.GetBool("capture-output"),
	}
}
