// Package flagx helps binaries that layer their own flag parsing on top of
// a command framework: it picks the flags a package owns out of a mixed
// argument list.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// ConfigFlags are the spellings accepted for the JSON config file path.
var ConfigFlags = []string{"-c", "-config", "--config"}

// FilterArgs keeps only the allowed flags and their values. Both
// "-f value" and "-f=value" forms are recognised; a following argument
// that starts with '-' is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	own, _ := SplitArgs(args, allowedFlags)
	return own
}

// SplitArgs separates the allowed flags (with their values) from
// everything else, preserving order on both sides.
func SplitArgs(args []string, allowedFlags []string) (own, rest []string) {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	own = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, ok := allowed[name]; ok {
				own = append(own, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			own = append(own, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				own = append(own, args[i+1])
				i++
			}
			continue
		}
		rest = append(rest, arg)
	}
	return own, rest
}

// FlagNames lists "-name" for every flag defined in fs, the allow list
// FilterArgs expects.
func FlagNames(fs *flag.FlagSet) []string {
	var names []string
	fs.VisitAll(func(f *flag.Flag) {
		names = append(names, "-"+f.Name, "--"+f.Name)
	})
	return names
}

// ConfigPath returns the config file named by -c/-config in args, or "".
// The last occurrence wins.
func ConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, ConfigFlags))

	return config
}
