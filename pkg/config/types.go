package config

import (
	"sort"
	"time"

	"github.com/openfroyo/fedbroker/pkg/connectors"
	"github.com/openfroyo/fedbroker/pkg/engine"
	"github.com/openfroyo/fedbroker/pkg/telemetry"
)

// Config is the configuration of one federation member.
type Config struct {
	Member     MemberConfig     `yaml:"member" validate:"required"`
	Federation FederationConfig `yaml:"federation"`
	Store      StoreConfig      `yaml:"store"`
	Processors ProcessorConfig  `yaml:"processors"`
	Auth       AuthConfig       `yaml:"auth"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// MemberConfig identifies the local member.
type MemberConfig struct {
	// ID is the member's name in the federation. It must match the common
	// name of the member certificate.
	ID string `yaml:"id" validate:"required,hostname_rfc1123"`

	// ListenAddress is where the federation endpoint listens.
	ListenAddress string `yaml:"listen_address" validate:"required,hostname_port"`
}

// FederationConfig configures how the member reaches and trusts its peers.
type FederationConfig struct {
	// Peers maps member ids to their federation endpoints.
	Peers map[string]string `yaml:"peers" validate:"dive,keys,required,endkeys,required"`

	// CallTimeout bounds every outgoing call.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gt=0"`

	// Insecure disables mutual TLS. The sender is then taken from a header.
	Insecure bool `yaml:"insecure"`

	CertFile string `yaml:"cert_file" validate:"required_unless=Insecure true"`
	KeyFile  string `yaml:"key_file" validate:"required_unless=Insecure true"`
	CAFile   string `yaml:"ca_file" validate:"required_unless=Insecure true"`

	// NotifyAttempts and NotifyBackoff bound the redelivery of event
	// notifications to unavailable members.
	NotifyAttempts int           `yaml:"notify_attempts" validate:"gt=0"`
	NotifyBackoff  time.Duration `yaml:"notify_backoff" validate:"gt=0"`
}

// StoreConfig configures the order database.
type StoreConfig struct {
	Path         string `yaml:"path" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// ProcessorConfig configures the scan passes.
type ProcessorConfig struct {
	// Interval is the pause between passes of every processor.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// Intervals overrides Interval per order state.
	Intervals map[string]time.Duration `yaml:"intervals" validate:"dive,gt=0"`
}

// AuthConfig configures token authentication and policy authorization.
type AuthConfig struct {
	// TokenSecret is the HMAC key user tokens are signed with.
	TokenSecret string `yaml:"token_secret" validate:"required,min=16"`

	// Issuers are the identity providers accepted as token issuers. Empty
	// accepts the local member and every peer.
	Issuers []string `yaml:"issuers" validate:"dive,required"`

	// PolicyFile replaces the built-in Rego policy.
	PolicyFile string `yaml:"policy_file"`

	// WatchPolicy reloads PolicyFile when it changes.
	WatchPolicy bool `yaml:"watch_policy"`

	// TrustedMembers may request resources on behalf of their users.
	TrustedMembers []string `yaml:"trusted_members" validate:"dive,required"`
}

// CloudConfig configures the simulated cloud backing the local connector.
type CloudConfig struct {
	// ReadyAfter is how many polls a new instance stays CREATING.
	ReadyAfter int `yaml:"ready_after" validate:"gte=0"`

	// Capacity is every user's quota.
	Capacity engine.Allocation `yaml:"capacity"`

	Images []ImageConfig `yaml:"images" validate:"dive"`
}

// ImageConfig describes an image offered by the simulated cloud.
type ImageConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Name    string `yaml:"name"`
	SizeMB  int64  `yaml:"size_mb" validate:"gte=0"`
	MinDisk int    `yaml:"min_disk_gb" validate:"gte=0"`
	MinRAM  int    `yaml:"min_ram_mb" validate:"gte=0"`
	Status  string `yaml:"status" validate:"omitempty,oneof=active queued saving killed deleted"`
}

// Default returns the configuration every member file is applied on top of.
func Default() *Config {
	return &Config{
		Member: MemberConfig{
			ListenAddress: "0.0.0.0:7443",
		},
		Federation: FederationConfig{
			Peers:          map[string]string{},
			CallTimeout:    10 * time.Second,
			NotifyAttempts: 3,
			NotifyBackoff:  time.Second,
		},
		Store: StoreConfig{
			Path: "fedbroker.db",
		},
		Processors: ProcessorConfig{
			Interval: engine.DefaultProcessorInterval,
		},
		Cloud: CloudConfig{
			ReadyAfter: 2,
			Capacity: engine.Allocation{
				Instances: 10, VCPU: 20, RAMMB: 40960, DiskGB: 500,
				Volumes: 10, StorageGB: 1000, Networks: 5, PublicIPs: 5,
			},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// RemotePeers returns every peer except the local member.
func (c *Config) RemotePeers() map[string]string {
	out := make(map[string]string, len(c.Federation.Peers))
	for id, addr := range c.Federation.Peers {
		if id != c.Member.ID {
			out[id] = addr
		}
	}
	return out
}

// TokenIssuers returns the accepted token issuers.
func (c *Config) TokenIssuers() []string {
	if len(c.Auth.Issuers) > 0 {
		return c.Auth.Issuers
	}
	issuers := []string{c.Member.ID}
	for id := range c.RemotePeers() {
		issuers = append(issuers, id)
	}
	sort.Strings(issuers[1:])
	return issuers
}

// ProcessorIntervals returns the per-state pass intervals, Interval filling
// every state without an override.
func (c *Config) ProcessorIntervals() engine.ProcessorIntervals {
	out := engine.ProcessorIntervals{}
	for state := range engine.DefaultTransitionGraph() {
		out[state] = c.Processors.Interval
	}
	for state, d := range c.Processors.Intervals {
		out[engine.OrderState(state)] = d
	}
	return out
}

// Simulated returns the simulated cloud configuration. No configured images
// means connectors.DefaultImages.
func (c *Config) Simulated() connectors.SimulatedConfig {
	sim := connectors.SimulatedConfig{
		ReadyAfter: c.Cloud.ReadyAfter,
		Capacity:   c.Cloud.Capacity,
	}
	for _, img := range c.Cloud.Images {
		status := img.Status
		if status == "" {
			status = "active"
		}
		sim.Images = append(sim.Images, engine.Image{
			ID:      img.ID,
			Name:    img.Name,
			SizeMB:  img.SizeMB,
			MinDisk: img.MinDisk,
			MinRAM:  img.MinRAM,
			Status:  status,
		})
	}
	return sim
}
