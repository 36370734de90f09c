// Package helphelpers trims the flags shown by "memctl help <command>".
package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// hidden lists, per subcommand, the root flags that cobra must still parse
// but that have no effect on it. A nil entry hides every flag.
var hidden = map[string][]string{
	"memctl":  nil,
	"help":    nil,
	"version": nil,
	"log":     nil,
	"connect": {"accept-multiclient", "freeze-interval", "freeze-threshold", "headless", "listen"},
}

// Prepare hides the flags that do not apply to cmd before its usage is
// printed. Flags are shared with the root command, so cmd can not be
// reused afterwards.
func Prepare(cmd *cobra.Command) {
	names, ok := hidden[cmd.Name()]
	if !ok {
		return
	}
	if names == nil {
		for c := cmd; c != nil; c = c.Parent() {
			c.PersistentFlags().VisitAll(hide)
			c.Flags().VisitAll(hide)
		}
		return
	}
	for _, name := range names {
		if f := lookup(cmd, name); f != nil {
			hide(f)
		}
	}
}

func hide(f *pflag.Flag) {
	f.Hidden = true
}

// lookup finds the flag name on cmd or the closest of its ancestors.
func lookup(cmd *cobra.Command, name string) *pflag.Flag {
	for c := cmd; c != nil; c = c.Parent() {
		if f := c.Flags().Lookup(name); f != nil {
			return f
		}
		if f := c.PersistentFlags().Lookup(name); f != nil {
			return f
		}
	}
	return nil
}
