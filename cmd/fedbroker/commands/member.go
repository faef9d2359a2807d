package commands

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/fedbroker/pkg/aaa"
	"github.com/openfroyo/fedbroker/pkg/config"
	"github.com/openfroyo/fedbroker/pkg/connectors"
	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/facade"
	"github.com/openfroyo/fedbroker/pkg/federation/transport"
	"github.com/openfroyo/fedbroker/pkg/stores"
	"github.com/openfroyo/fedbroker/pkg/telemetry"
)

// member is one running federation member.
type member struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	store        *stores.SQLiteStore
	registry     *engine.Registry
	transitioner *engine.Transitioner
	connectors   *connectors.Registry
	authorizer   *aaa.Authorizer
	facade       *facade.Facade

	client   *transport.Client
	notifier *transport.Notifier
	server   *transport.Server
	manager  *engine.Manager
}

// newMember wires every component of a member and recovers its orders.
// Nothing listens until run.
func newMember(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*member, error) {
	local := cfg.Member.ID
	m := &member{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}

	store, err := stores.Open(ctx, stores.Config{Path: cfg.Store.Path, MaxOpenConns: cfg.Store.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("failed to open order store: %w", err)
	}
	m.store = store

	if err := m.wire(ctx, local); err != nil {
		_ = m.close(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *member) wire(ctx context.Context, local string) error {
	cfg := m.cfg

	clientCfg := transport.ClientConfig{
		LocalMember: local,
		Peers:       cfg.RemotePeers(),
		Timeout:     cfg.Federation.CallTimeout,
		Insecure:    cfg.Federation.Insecure,
		Recorder:    m.tel.Metrics,
	}
	serverCfg := transport.ServerConfig{
		Insecure: cfg.Federation.Insecure,
		Recorder: m.tel.Metrics,
	}
	if !cfg.Federation.Insecure {
		files := transport.TLSFiles{
			CertFile: cfg.Federation.CertFile,
			KeyFile:  cfg.Federation.KeyFile,
			CAFile:   cfg.Federation.CAFile,
		}
		var err error
		if clientCfg.TLS, err = transport.ClientTLS(files); err != nil {
			return err
		}
		if serverCfg.TLS, err = transport.ServerTLS(files); err != nil {
			return err
		}
	}

	client, err := transport.NewClient(clientCfg, m.logger)
	if err != nil {
		return err
	}
	m.client = client
	m.notifier = transport.NewNotifier(client, transport.NotifierConfig{
		Attempts: cfg.Federation.NotifyAttempts,
		Backoff:  cfg.Federation.NotifyBackoff,
	}, m.logger)

	m.registry = engine.NewRegistry(m.store, m.logger)
	m.transitioner = engine.NewTransitioner(m.registry, engine.TransitionerConfig{
		LocalMember: local,
		Graph:       engine.DefaultTransitionGraph(),
		Notifier:    m.notifier,
		Observer:    m.tel.ObserveTransition,
		Tracer:      m.tel.Tracer,
	}, m.logger)

	cloud := connectors.NewSimulatedCloud(local, cfg.Simulated(), m.logger)
	m.connectors = connectors.NewRegistry(local, connectors.NewLocalConnector(cloud, m.logger))
	m.connectors.SetRecorder(m.tel.Metrics)
	peers := make([]string, 0, len(clientCfg.Peers))
	for id := range clientCfg.Peers {
		peers = append(peers, id)
	}
	if err := m.connectors.RegisterRemote(client, peers...); err != nil {
		return err
	}

	authn, err := aaa.NewTokenAuthenticator([]byte(cfg.Auth.TokenSecret), cfg.TokenIssuers()...)
	if err != nil {
		return err
	}
	m.authorizer, err = aaa.NewAuthorizer(ctx, m.logger, cfg.Auth.TrustedMembers)
	if err != nil {
		return err
	}
	if cfg.Auth.PolicyFile != "" {
		if err := m.authorizer.LoadFile(ctx, cfg.Auth.PolicyFile); err != nil {
			return err
		}
	}

	m.facade = facade.New(facade.Config{
		LocalMember:  local,
		Registry:     m.registry,
		Transitioner: m.transitioner,
		Connectors:   m.connectors,
		Aaa:          aaa.NewController(local, authn, m.authorizer, m.logger),
	}, m.logger)

	m.server, err = transport.NewServer(facade.NewDispatcher(m.facade, m.logger), serverCfg, m.logger)
	if err != nil {
		return err
	}

	processors, err := engine.NewProcessors(engine.ProcessorDeps{
		LocalMember:  local,
		Registry:     m.registry,
		Transitioner: m.transitioner,
		Connectors:   m.connectors,
		Logger:       m.logger,
		OnError:      m.tel.ObserveProcessorError,
		Tracer:       m.tel.Tracer,
	}, cfg.ProcessorIntervals())
	if err != nil {
		return err
	}
	m.manager = engine.NewManager(m.logger, processors...)

	if err := m.tel.Metrics.TrackOrders(m.registry.Counts); err != nil {
		return err
	}

	recovered, err := m.registry.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orders: %w", err)
	}
	m.logger.Info().Int("orders", recovered).Strs("peers", m.connectors.Members()).Msg("Member ready")
	return nil
}

// run serves federation calls on lis and runs the processors until ctx is
// cancelled or one of them fails.
func (m *member) run(ctx context.Context, lis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if m.cfg.Auth.WatchPolicy {
		if err := m.authorizer.Watch(gctx, m.cfg.Auth.PolicyFile); err != nil {
			return err
		}
	}

	g.Go(func() error {
		return m.server.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		m.server.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return m.manager.Run(gctx)
	})
	g.Go(func() error {
		return m.tel.Metrics.Serve(gctx, m.logger)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close abandons pending notification retries and releases every resource.
func (m *member) close(ctx context.Context) error {
	var errs []error
	if m.notifier != nil {
		m.notifier.Close()
	}
	if m.authorizer != nil {
		errs = append(errs, m.authorizer.StopWatching())
	}
	if m.client != nil {
		errs = append(errs, m.client.Close())
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	errs = append(errs, m.tel.Shutdown(ctx))
	return errors.Join(errs...)
}
