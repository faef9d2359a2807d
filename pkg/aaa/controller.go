package aaa

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Controller authenticates user tokens and authorizes operations against the
// policy. It implements engine.AaaController.
type Controller struct {
	localMember string
	authn       *TokenAuthenticator
	authz       *Authorizer
	logger      zerolog.Logger
}

var _ engine.AaaController = (*Controller)(nil)

// NewController creates a controller for the local member.
func NewController(localMember string, authn *TokenAuthenticator, authz *Authorizer, logger zerolog.Logger) *Controller {
	return &Controller{
		localMember: localMember,
		authn:       authn,
		authz:       authz,
		logger:      logger.With().Str("component", "aaa").Logger(),
	}
}

// AuthenticateAndAuthorize resolves the token to a user and checks that the
// user, acting through requestingMember, may perform op.
func (c *Controller) AuthenticateAndAuthorize(
	ctx context.Context,
	requestingMember, userToken string,
	op engine.Operation,
	rt engine.ResourceType,
	target string,
) (*engine.SystemUser, error) {
	user, err := c.authn.Authenticate(userToken)
	if err != nil {
		c.logger.Debug().Err(err).Str("requesting_member", requestingMember).Msg("Authentication failed")
		return nil, err
	}

	allowed, err := c.authz.Authorize(ctx, Input{
		Operation:        string(op),
		ResourceType:     string(rt),
		RequestingMember: requestingMember,
		LocalMember:      c.localMember,
		Target:           target,
		UserID:           user.ID,
		UserName:         user.Name,
		IdentityProvider: user.IdentityProvider,
	})
	if err != nil {
		return nil, engine.NewUnexpectedError("authorization failed", err)
	}
	if !allowed {
		c.logger.Debug().
			Str("user", user.ID).
			Str("requesting_member", requestingMember).
			Str("operation", string(op)).
			Msg("Operation denied by policy")
		return nil, engine.NewUnauthorizedError(
			fmt.Sprintf("user %s may not %s through %s", user.ID, op, requestingMember), nil)
	}
	return user, nil
}
