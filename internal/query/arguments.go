// Package query turns command arguments into activity queries.
package query

import (
	"strings"
)

// Flags that toggle query and ruleset behavior.
const (
	FlagNoGroup     = "nogroup"
	FlagNoDefaults  = "nodefaults"
	FlagOverwrite   = "overwrite"
	FlagDrainLava   = "drainlava"
	FlagRemoveDrops = "removedrops"
)

var knownFlags = map[string]struct{}{
	FlagNoGroup:     {},
	FlagNoDefaults:  {},
	FlagOverwrite:   {},
	FlagDrainLava:   {},
	FlagRemoveDrops: {},
}

var knownParams = map[string]struct{}{
	"id": {}, "world": {}, "at": {}, "in": {}, "r": {}, "bounds": {},
	"before": {}, "since": {}, "c": {}, "a": {},
	"b": {}, "btag": {}, "bc": {},
	"i": {}, "itag": {},
	"e": {}, "etag": {}, "ec": {},
	"p": {}, "pa": {}, "pc": {},
	"reversed": {}, "q": {},
}

// Arguments are tokenized "key:value" parameters and "-flag" flags.
type Arguments struct {
	params map[string]string
	flags  map[string]struct{}
}

// ParseArguments tokenizes raw command arguments.
func ParseArguments(args []string) (*Arguments, error) {
	a := &Arguments{
		params: make(map[string]string),
		flags:  make(map[string]struct{}),
	}

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}

		if flag, ok := strings.CutPrefix(arg, "-"); ok {
			flag = strings.ToLower(flag)
			if _, known := knownFlags[flag]; !known {
				return nil, invalid(CodeUnknownFlag, flag, "")
			}

			a.flags[flag] = struct{}{}

			continue
		}

		key, value, found := strings.Cut(arg, ":")
		if !found || key == "" || value == "" {
			return nil, invalid(CodeInvalidArgument, arg, "")
		}

		key = strings.ToLower(key)
		if _, known := knownParams[key]; !known {
			return nil, invalid(CodeUnknownParameter, key, value)
		}

		if _, dup := a.params[key]; dup {
			return nil, invalid(CodeDuplicate, key, value)
		}

		a.params[key] = value
	}

	return a, nil
}

// HasFlag reports whether a flag was given.
func (a *Arguments) HasFlag(flag string) bool {
	_, ok := a.flags[flag]
	return ok
}

// Param returns a single parameter value.
func (a *Arguments) Param(key string) (string, bool) {
	v, ok := a.params[key]
	return v, ok
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string

	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
