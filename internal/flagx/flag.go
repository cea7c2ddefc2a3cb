// Package flagx holds small helpers for pre-scanning command-line arguments
// before the real flag set is parsed.
package flagx

import "strings"

// FilterArgs keeps only the flags listed in allowedFlags, together with their
// values. Both "-f value" and "-f=value" forms are recognised. A token that
// starts with "-" is never consumed as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, keep := allowed[name]; keep {
				out = append(out, arg)
			}
			continue
		}

		if _, keep := allowed[arg]; !keep {
			continue
		}
		out = append(out, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// Lookup returns the value of the last occurrence of any of names in args.
// Only the flags in names are inspected, so unrelated flags do not need to be
// known to the caller.
func Lookup(args []string, names ...string) (string, bool) {
	filtered := FilterArgs(args, names)
	var (
		value string
		found bool
	)
	for i := 0; i < len(filtered); i++ {
		if name, v, ok := strings.Cut(filtered[i], "="); ok && strings.HasPrefix(name, "-") {
			value, found = v, true
			continue
		}
		found = true
		value = ""
		if i+1 < len(filtered) && !isName(filtered[i+1], names) {
			value = filtered[i+1]
			i++
		}
	}
	return value, found
}

func isName(s string, names []string) bool {
	for _, n := range names {
		if s == n {
			return true
		}
	}
	return false
}
