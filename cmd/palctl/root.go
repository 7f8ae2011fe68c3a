package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings is the resolved view of flags, PALCTL_* env vars and the
// optional config file named by PALCTL_CONFIG. Flags set on the command line
// win over env, env over file, file over flag defaults.
type settings struct {
	ConfigDir string `mapstructure:"config-dir"`
	Scene     string `mapstructure:"scene"`
	SimURL    string `mapstructure:"sim-url"`
	TraceDir  string `mapstructure:"trace-dir"`
	Ledger    string `mapstructure:"ledger"`
	Verbose   bool   `mapstructure:"verbose"`
	JSON      bool   `mapstructure:"json"`
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "palctl",
		Short:         "Run and inspect action-primitive executions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	pf := root.PersistentFlags()
	pf.String("config-dir", "./configs/primitives", "directory holding categories.yaml and tasks/")
	pf.String("scene", "./configs/scenes/kitchen.yaml", "memsim scene used when --sim-url is empty")
	pf.String("sim-url", "", "websocket URL of a simhost (ws://host:port/v1/ws)")
	pf.String("trace-dir", "", "write compressed primitive traces here")
	pf.String("ledger", "", "sqlite ledger path")
	pf.BoolP("verbose", "v", false, "log engine internals to stderr")
	pf.Bool("json", false, "print JSON instead of tables")

	root.AddCommand(newRunCmd(), newConfigCmd(), newTraceCmd(), newLedgerCmd())
	return root
}

func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	if path := os.Getenv("PALCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("PALCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, err
	}
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return s, nil
}

func (s settings) logger(cmd *cobra.Command) *log.Logger {
	if !s.Verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "[palctl] ", log.LstdFlags|log.Lmicroseconds)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
