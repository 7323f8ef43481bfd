// Package procenv resolves the two process-wide environment-variable
// defaults spec.md §6 names (ASP_HOME, ASP_CLAUDE_PATH). It is the only
// place in the module that touches viper; every other option travels
// through explicit structs, per spec.md §5's "no global process state."
package procenv

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Defaults holds the resolved environment-variable defaults.
type Defaults struct {
	AspHome    string
	ClaudePath string
}

// Resolve reads ASP_HOME and ASP_CLAUDE_PATH, falling back to
// "$HOME/.asp" and "" respectively when unset.
func Resolve() Defaults {
	v := viper.New()
	v.AutomaticEnv()
	v.BindEnv("asp_home", "ASP_HOME")
	v.BindEnv("asp_claude_path", "ASP_CLAUDE_PATH")

	home := v.GetString("asp_home")
	if home == "" {
		if hd, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(hd, ".asp")
		}
	}

	return Defaults{
		AspHome:    home,
		ClaudePath: v.GetString("asp_claude_path"),
	}
}
