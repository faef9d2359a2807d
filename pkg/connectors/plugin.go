package connectors

import (
	"context"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Plugin is a driver for the local member's cloud. Implementations return
// classified engine errors.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Create provisions the resource described by payload and returns its id.
	Create(ctx context.Context, user engine.SystemUser, payload engine.Payload) (string, error)

	// Get returns the instance with the id.
	Get(ctx context.Context, rt engine.ResourceType, instanceID string) (*engine.Instance, error)

	// Delete releases the instance with the id.
	Delete(ctx context.Context, rt engine.ResourceType, instanceID string) error

	// Quota returns the user's quota for a resource type.
	Quota(ctx context.Context, user engine.SystemUser, rt engine.ResourceType) (*engine.Quota, error)

	// Image returns one image.
	Image(ctx context.Context, user engine.SystemUser, imageID string) (*engine.Image, error)

	// Images lists the images available to the user.
	Images(ctx context.Context, user engine.SystemUser) ([]engine.ImageSummary, error)
}
