// Package flagx picks the flags a component owns out of a shared command
// line, so the config loader, cobra and the standard flag package can all
// read the same os.Args.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// configFlags are the spellings of the config file flag. --config is what
// cobra-based tools document.
var configFlags = []string{"-c", "-config", "--config"}

// FilterArgs returns the allowed flags of args together with their values,
// in order. Both "-f value" and "-f=value" forms are recognised. A token
// starting with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ConfigFileFrom returns the config file named in args, or "" if none is.
// When the flag is repeated the last value wins.
func ConfigFileFrom(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, configFlags))

	return config
}

// ConfigFile is ConfigFileFrom over the process arguments.
func ConfigFile() string {
	return ConfigFileFrom(os.Args[1:])
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
