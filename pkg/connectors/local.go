package connectors

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// LocalConnector reaches the local member's cloud through a plugin.
type LocalConnector struct {
	plugin Plugin
	logger zerolog.Logger
}

var _ engine.CloudConnector = (*LocalConnector)(nil)

// NewLocalConnector creates a connector over plugin.
func NewLocalConnector(plugin Plugin, logger zerolog.Logger) *LocalConnector {
	return &LocalConnector{
		plugin: plugin,
		logger: logger.With().Str("component", "local-connector").Str("plugin", plugin.Name()).Logger(),
	}
}

func (c *LocalConnector) RequestInstance(ctx context.Context, order engine.OrderSnapshot) (string, error) {
	if order.Payload == nil {
		return "", engine.NewInvalidParameterError("order has no payload", nil).WithOrder(order.ID)
	}
	id, err := c.plugin.Create(ctx, order.User, order.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to create %s for order %s: %w", order.ResourceType, order.ID, err)
	}
	c.logger.Debug().Str("order_id", order.ID).Str("instance_id", id).Msg("Instance requested")
	return id, nil
}

func (c *LocalConnector) GetInstance(ctx context.Context, order engine.OrderSnapshot) (*engine.Instance, error) {
	if order.InstanceID == "" {
		return nil, engine.NewInstanceNotFoundError("order has no instance", nil).WithOrder(order.ID)
	}
	return c.plugin.Get(ctx, order.ResourceType, order.InstanceID)
}

func (c *LocalConnector) DeleteInstance(ctx context.Context, order engine.OrderSnapshot) error {
	if order.InstanceID == "" {
		return engine.NewInstanceNotFoundError("order has no instance", nil).WithOrder(order.ID)
	}
	if err := c.plugin.Delete(ctx, order.ResourceType, order.InstanceID); err != nil {
		return err
	}
	c.logger.Debug().Str("order_id", order.ID).Str("instance_id", order.InstanceID).Msg("Instance deleted")
	return nil
}

func (c *LocalConnector) GetUserQuota(ctx context.Context, user engine.SystemUser, _ string, rt engine.ResourceType) (*engine.Quota, error) {
	return c.plugin.Quota(ctx, user, rt)
}

func (c *LocalConnector) GetImage(ctx context.Context, user engine.SystemUser, _ string, imageID string) (*engine.Image, error) {
	return c.plugin.Image(ctx, user, imageID)
}

func (c *LocalConnector) GetAllImages(ctx context.Context, user engine.SystemUser, _ string) ([]engine.ImageSummary, error) {
	return c.plugin.Images(ctx, user)
}
