// Package runspec defines the versioned YAML document describing one session
// to drive: which image to run, how, and what should happen to the runtime
// when the session closes.
package runspec

// SpecVersion is the API version string required in every run spec.
const SpecVersion = "stevedore/v1"

// Spec is the root type for a session run spec.
type Spec struct {
	// APIVersion must be "stevedore/v1".
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// Metadata holds descriptive metadata.
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	// Image is the container image, optionally registry-qualified already.
	Image string `yaml:"image" json:"image"`

	// Command is the argv to run inside the runtime.
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`

	// WorkingDir is the working directory for Command.
	WorkingDir string `yaml:"workingDir,omitempty" json:"workingDir,omitempty"`

	// Environment holds extra environment variables for the runtime.
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`

	// ResourceFactor scales the runtime's resource allocation. Defaults to 1.
	ResourceFactor int `yaml:"resourceFactor,omitempty" json:"resourceFactor,omitempty"`

	// Teardown overrides the configured close behaviour when set.
	Teardown Teardown `yaml:"teardown,omitempty" json:"teardown,omitempty"`
}

// Metadata holds descriptive information about a run spec.
type Metadata struct {
	// Name is the session ID. Unique per logical task.
	Name string `yaml:"name" json:"name"`

	// Description is informational only.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Teardown selects what closing the session does to its runtime. Unset
// fields fall back to the controller configuration.
type Teardown struct {
	KeepAlive    *bool `yaml:"keepAlive,omitempty" json:"keepAlive,omitempty"`
	PauseOnClose *bool `yaml:"pauseOnClose,omitempty" json:"pauseOnClose,omitempty"`
}
