package connectors

import (
	"context"
	"fmt"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
)

// Caller sends one federation request to a member. Faults come back as
// decoded errors; transport failures as UnavailableProvider.
type Caller interface {
	Call(ctx context.Context, member string, req *protocol.Request) (*protocol.Response, error)
}

// RemoteConnector forwards connector calls to another member's facade.
type RemoteConnector struct {
	member string
	caller Caller
}

var _ engine.CloudConnector = (*RemoteConnector)(nil)

// NewRemoteConnector creates a connector for member.
func NewRemoteConnector(member string, caller Caller) *RemoteConnector {
	return &RemoteConnector{member: member, caller: caller}
}

// Member returns the member this connector reaches.
func (c *RemoteConnector) Member() string {
	return c.member
}

func (c *RemoteConnector) call(ctx context.Context, op protocol.Operation, ptype protocol.PayloadType, body any) (*protocol.Response, error) {
	req, err := protocol.NewRequest(op, ptype, body)
	if err != nil {
		return nil, engine.NewUnexpectedError(fmt.Sprintf("failed to build %s request", op), err)
	}
	return c.caller.Call(ctx, c.member, req)
}

// RequestInstance ships the order to the providing member. The remote side
// keys the instance by order id, so the order id is the instance id.
func (c *RemoteConnector) RequestInstance(ctx context.Context, order engine.OrderSnapshot) (string, error) {
	req, err := protocol.CreateOrderRequest(order)
	if err != nil {
		return "", engine.NewUnexpectedError("failed to build create-order request", err).WithOrder(order.ID)
	}
	if _, err := c.caller.Call(ctx, c.member, req); err != nil {
		return "", err
	}
	return order.ID, nil
}

func (c *RemoteConnector) GetInstance(ctx context.Context, order engine.OrderSnapshot) (*engine.Instance, error) {
	resp, err := c.call(ctx, protocol.OpGetOrder, protocol.PayloadOrderRef, protocol.OrderRef{
		OrderID:      order.ID,
		ResourceType: order.ResourceType,
		UserToken:    order.UserToken,
	})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeInstance(resp.PayloadType, resp.Payload)
}

func (c *RemoteConnector) DeleteInstance(ctx context.Context, order engine.OrderSnapshot) error {
	_, err := c.call(ctx, protocol.OpDeleteOrder, protocol.PayloadOrderRef, protocol.OrderRef{
		OrderID:      order.ID,
		ResourceType: order.ResourceType,
		UserToken:    order.UserToken,
	})
	return err
}

func (c *RemoteConnector) GetUserQuota(ctx context.Context, _ engine.SystemUser, userToken string, rt engine.ResourceType) (*engine.Quota, error) {
	resp, err := c.call(ctx, protocol.OpGetUserQuota, protocol.PayloadQuotaRequest, protocol.QuotaRequest{
		MemberID:     c.member,
		ResourceType: rt,
		UserToken:    userToken,
	})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeQuota(resp.PayloadType, resp.Payload)
}

func (c *RemoteConnector) GetImage(ctx context.Context, _ engine.SystemUser, userToken string, imageID string) (*engine.Image, error) {
	resp, err := c.call(ctx, protocol.OpGetImage, protocol.PayloadImageRequest, protocol.ImageRequest{
		MemberID:  c.member,
		ImageID:   imageID,
		UserToken: userToken,
	})
	if err != nil {
		return nil, err
	}
	if err := protocol.Expect(resp, protocol.PayloadImage); err != nil {
		return nil, err
	}
	var img engine.Image
	if err := protocol.ParsePayload(resp.Payload, &img); err != nil {
		return nil, engine.NewUnexpectedError("malformed image response", err)
	}
	return &img, nil
}

func (c *RemoteConnector) GetAllImages(ctx context.Context, _ engine.SystemUser, userToken string) ([]engine.ImageSummary, error) {
	resp, err := c.call(ctx, protocol.OpGetAllImages, protocol.PayloadImagesRequest, protocol.ImagesRequest{
		MemberID:  c.member,
		UserToken: userToken,
	})
	if err != nil {
		return nil, err
	}
	if err := protocol.Expect(resp, protocol.PayloadImageList); err != nil {
		return nil, err
	}
	var list protocol.ImageList
	if err := protocol.ParsePayload(resp.Payload, &list); err != nil {
		return nil, engine.NewUnexpectedError("malformed image list response", err)
	}
	return list.Images, nil
}
