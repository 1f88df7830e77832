package sandbox

import (
	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Register registers the sandbox executor as a tool with the agent runtime,
// declaring the requires_sandbox + long_running capabilities so its calls
// get the 60-minute timeout instead of the runtime's flat default.
func Register(runtime *agent.Runtime, opts ...Option) error {
	executor, err := NewExecutor(opts...)
	if err != nil {
		return err
	}

	runtime.RegisterToolWithDescriptor(executor, &models.ToolDescriptor{
		Name: executor.Name(),
		Capabilities: []models.ToolCapability{
			models.CapabilityRequiresSandbox,
			models.CapabilityLongRunning,
		},
	})
	return nil
}

// MustRegister registers the sandbox executor and panics on error.
// Use this in initialization code where errors should be fatal.
func MustRegister(runtime *agent.Runtime, opts ...Option) {
	if err := Register(runtime, opts...); err != nil {
		panic(err)
	}
}
