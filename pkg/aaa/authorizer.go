package aaa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Input is the document a policy decides on.
type Input struct {
	Operation        string
	ResourceType     string
	RequestingMember string
	LocalMember      string
	Target           string
	UserID           string
	UserName         string
	IdentityProvider string
}

func (in Input) document() map[string]any {
	return map[string]any{
		"operation":         in.Operation,
		"resource_type":     in.ResourceType,
		"requesting_member": in.RequestingMember,
		"local_member":      in.LocalMember,
		"target":            in.Target,
		"user": map[string]any{
			"id":                in.UserID,
			"name":              in.UserName,
			"identity_provider": in.IdentityProvider,
		},
	}
}

// Authorizer evaluates a Rego policy. The policy can be replaced at runtime;
// a policy that fails to compile never replaces a working one.
type Authorizer struct {
	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	source  string
	store   storage.Store
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewAuthorizer creates an authorizer running DefaultPolicy with the given
// trusted members.
func NewAuthorizer(ctx context.Context, logger zerolog.Logger, trusted []string) (*Authorizer, error) {
	members := make([]any, 0, len(trusted))
	for _, m := range trusted {
		members = append(members, m)
	}
	a := &Authorizer{
		store: inmem.NewFromObject(map[string]any{
			"fedbroker": map[string]any{
				"members": map[string]any{"trusted": members},
			},
		}),
		logger: logger.With().Str("component", "authorizer").Logger(),
	}
	if err := a.LoadPolicy(ctx, "default.rego", DefaultPolicy); err != nil {
		return nil, fmt.Errorf("failed to load default policy: %w", err)
	}
	return a, nil
}

// LoadPolicy compiles src and makes it the active policy.
func (a *Authorizer) LoadPolicy(ctx context.Context, name, src string) error {
	if _, err := ast.ParseModule(name, src); err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", name, err)
	}

	query, err := rego.New(
		rego.Query(PolicyQuery),
		rego.Module(name, src),
		rego.Store(a.store),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	a.mu.Lock()
	a.query = query
	a.source = name
	a.mu.Unlock()

	a.logger.Info().Str("policy", name).Msg("Authorization policy loaded")
	return nil
}

// LoadFile loads a .rego file as the active policy.
func (a *Authorizer) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	return a.LoadPolicy(ctx, path, string(data))
}

// Source returns the name of the active policy.
func (a *Authorizer) Source() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.source
}

// Authorize evaluates the active policy.
func (a *Authorizer) Authorize(ctx context.Context, in Input) (bool, error) {
	a.mu.RLock()
	query := a.query
	a.mu.RUnlock()

	rs, err := query.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	return rs.Allowed(), nil
}

// Watch reloads the policy file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (a *Authorizer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	a.mu.Lock()
	a.watcher = watcher
	a.mu.Unlock()

	go a.processEvents(ctx, watcher, filepath.Clean(path))

	a.logger.Info().Str("path", path).Msg("Watching authorization policy")
	return nil
}

func (a *Authorizer) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := a.LoadFile(ctx, path); err != nil {
					a.logger.Error().Err(err).Str("path", path).Msg("Policy reload failed, keeping previous policy")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// StopWatching stops a running Watch.
func (a *Authorizer) StopWatching() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcher == nil {
		return nil
	}
	err := a.watcher.Close()
	a.watcher = nil
	return err
}
