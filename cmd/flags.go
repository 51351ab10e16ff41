package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue restricts a string flag to a fixed set of values, so bad input
// fails at parse time instead of somewhere inside component wiring.
type enumValue struct {
	pflag.Value
	allowed []string
}

func (v *enumValue) Set(val string) error {
	for _, a := range v.allowed {
		if val == a {
			return v.Value.Set(val)
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(v.allowed, ", "))
}

// restrictFlag wraps an already defined string flag with an allowed-values
// check. Unknown flag names are ignored.
func restrictFlag(flags *pflag.FlagSet, name string, allowed ...string) {
	flag := flags.Lookup(name)
	if flag == nil {
		return
	}
	flag.Value = &enumValue{Value: flag.Value, allowed: allowed}
}
