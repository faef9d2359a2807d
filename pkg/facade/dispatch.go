package facade

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/federation/protocol"
	"github.com/openfroyo/fedbroker/pkg/telemetry"
)

// Dispatcher turns federation requests into facade calls and their results
// into responses.
type Dispatcher struct {
	facade     *Facade
	translator *protocol.Translator
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher for the facade.
func NewDispatcher(f *Facade, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		facade:     f,
		translator: protocol.NewTranslator(logger),
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle serves one request. req.Sender must have been set by the transport.
// The response always echoes the request id; failures become faults and are
// recorded on the span in ctx.
func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.Sender == "" {
		return protocol.Failure(req.ID, d.translator.Encode(req.Operation, "",
			engine.NewUnauthenticatedError("sender identity is missing", nil)))
	}
	if err := req.Validate(); err != nil {
		return protocol.Failure(req.ID, d.translator.Encode(req.Operation, req.Sender,
			engine.NewInvalidParameterError("malformed request", err)))
	}

	if req.Operation == protocol.OpNotifyEvent {
		d.handleEvent(ctx, req)
		return protocol.Empty(req.ID)
	}

	resp, err := d.dispatch(ctx, req)
	if err != nil {
		telemetry.RecordError(trace.SpanFromContext(ctx), err)
		return protocol.Failure(req.ID, d.translator.Encode(req.Operation, req.Sender, err))
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Operation {
	case protocol.OpCreateOrder:
		snap, err := protocol.DecodeOrder(req.PayloadType, req.Payload)
		if err != nil {
			return nil, err
		}
		if err := d.facade.ActivateOrder(ctx, req.Sender, snap); err != nil {
			return nil, err
		}
		return protocol.Empty(req.ID), nil

	case protocol.OpGetOrder:
		var ref protocol.OrderRef
		if err := protocol.ParsePayload(req.Payload, &ref); err != nil {
			return nil, err
		}
		inst, err := d.facade.GetResourceInstance(ctx, req.Sender, ref.OrderID, ref.UserToken, ref.ResourceType)
		if err != nil {
			return nil, err
		}
		return protocol.Success(req.ID, protocol.InstancePayload(inst.ResourceType), inst)

	case protocol.OpDeleteOrder:
		var ref protocol.OrderRef
		if err := protocol.ParsePayload(req.Payload, &ref); err != nil {
			return nil, err
		}
		if err := d.facade.DeleteOrder(ctx, req.Sender, ref.OrderID, ref.UserToken, ref.ResourceType); err != nil {
			return nil, err
		}
		return protocol.Empty(req.ID), nil

	case protocol.OpGetUserQuota:
		var qr protocol.QuotaRequest
		if err := protocol.ParsePayload(req.Payload, &qr); err != nil {
			return nil, err
		}
		if err := qr.ResourceType.Validate(); err != nil {
			return nil, engine.NewInvalidParameterError("invalid resource type", err)
		}
		q, err := d.facade.GetUserQuota(ctx, req.Sender, qr.MemberID, qr.UserToken, qr.ResourceType)
		if err != nil {
			return nil, err
		}
		return protocol.Success(req.ID, protocol.QuotaPayload(qr.ResourceType), q)

	case protocol.OpGetImage:
		var ir protocol.ImageRequest
		if err := protocol.ParsePayload(req.Payload, &ir); err != nil {
			return nil, err
		}
		img, err := d.facade.GetImage(ctx, req.Sender, ir.MemberID, ir.ImageID, ir.UserToken)
		if err != nil {
			return nil, err
		}
		return protocol.Success(req.ID, protocol.PayloadImage, img)

	case protocol.OpGetAllImages:
		var ir protocol.ImagesRequest
		if err := protocol.ParsePayload(req.Payload, &ir); err != nil {
			return nil, err
		}
		imgs, err := d.facade.GetAllImages(ctx, req.Sender, ir.MemberID, ir.UserToken)
		if err != nil {
			return nil, err
		}
		return protocol.Success(req.ID, protocol.PayloadImageList, protocol.ImageList{Images: imgs})

	default:
		return nil, engine.NewInvalidParameterError("unsupported operation "+string(req.Operation), nil)
	}
}

// handleEvent applies a notify-event. Its errors are logged, never returned.
func (d *Dispatcher) handleEvent(ctx context.Context, req *protocol.Request) {
	var n protocol.EventNotification
	if err := protocol.ParsePayload(req.Payload, &n); err != nil {
		d.logger.Warn().Err(err).Str("sender", req.Sender).Msg("Malformed event notification")
		return
	}
	if err := d.facade.HandleRemoteEvent(ctx, req.Sender, n.Event, n.Order); err != nil {
		telemetry.RecordError(trace.SpanFromContext(ctx), err)
		d.logger.Warn().Err(err).
			Str("sender", req.Sender).
			Str("order_id", n.Order.ID).
			Str("event", string(n.Event)).
			Msg("Event notification rejected")
	}
}
