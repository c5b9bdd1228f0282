package commandstructure

import (
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker runs a fixed chain of commands, feeding each command the
// output of the previous one.
type CommandInvoker struct {
	commands []Command
}

// NewCommandInvoker creates an invoker for commands.
func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{
		commands: commands,
	}
}

// Names returns the command names in execution order.
func (i *CommandInvoker) Names() []string {
	names := make([]string, len(i.commands))
	for idx, command := range i.commands {
		names[idx] = command.Name()
	}
	return names
}

// Execute applies every command in sequence.
func (i *CommandInvoker) Execute(imageData []byte) ([]byte, error) {
	start := time.Now()
	current := imageData

	for idx, command := range i.commands {
		commandStart := time.Now()

		processed, err := command.Execute(current)
		if err != nil {
			slog.Error("command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err,
				"input_size_bytes", len(current))
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}

		slog.Debug("command completed",
			"index", idx,
			"command_name", command.Name(),
			"duration_ms", time.Since(commandStart).Milliseconds(),
			"input_size_bytes", len(current),
			"output_size_bytes", len(processed))
		current = processed
	}

	slog.Debug("image command chain completed",
		"total_duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(i.commands),
		"final_size_bytes", len(current))
	return current, nil
}
