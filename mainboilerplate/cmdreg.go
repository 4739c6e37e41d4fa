package mainboilerplate

import (
	"strings"

	"github.com/jessevdk/go-flags"
)

// AddCommandFunc adds a sub-command to its parent *flags.Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects sub-commands of a go-flags parser, keyed on the
// dot-separated path of their parent ("" is the root). Packages register
// commands from init(), and main() attaches them with AddCommands.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers |command| under the |parent| path, such as
// "" for a top-level command or "pending" for `pending <command>`.
func (cr CommandRegistry) AddCommand(parent, command, short, long string, data interface{}) {
	cr[parent] = append(cr[parent], func(cmd *flags.Command) error {
		var _, err = cmd.AddCommand(command, short, long, data)
		return err
	})
}

// AddCommands attaches commands registered under |path| to |cmd|. If
// |recursive|, commands registered beneath each attached command are
// attached as well.
func (cr CommandRegistry) AddCommands(path string, cmd *flags.Command, recursive bool) error {
	for _, fn := range cr[path] {
		if err := fn(cmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, child := range cmd.Commands() {
		var childPath = strings.TrimPrefix(path+"."+child.Name, ".")
		if err := cr.AddCommands(childPath, child, true); err != nil {
			return err
		}
	}
	return nil
}
