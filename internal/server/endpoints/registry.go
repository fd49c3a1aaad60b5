package endpoints

import (
	"github.com/ozonereg/declpipe/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Extraction endpoints
		&SubmitEndpoint{},
		&StatusEndpoint{},
		&RetryEndpoint{},
		&ListEndpoint{},
	}
}
