// Package commandstructure defines the image commands that paste ingestion
// runs on clipboard images, the registry that builds them from configuration,
// and the invoker that chains them.
package commandstructure

// Command transforms encoded image bytes.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandFactory builds a command from its configured parameters.
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig names a registered command and carries its parameters.
type CommandConfig struct {
	Name   string         `yaml:"name" validate:"required"`
	Params map[string]any `yaml:",inline"`
}
