package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEDBROKER_"

// Load reads a member file, YAML or CUE by extension, applies it on top of
// Default, then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
	case ".cue":
		parser, err := NewCUEParser()
		if err != nil {
			return nil, err
		}
		if content, err = parser.Parse(path, content); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg, err := decodeYAML(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML member document on top of Default without applying
// the environment or validating.
func Parse(content []byte) (*Config, error) {
	return decodeYAML(content)
}

func decodeYAML(content []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FEDBROKER_* variables found by lookup.
// FEDBROKER_PEERS is a comma separated list of id=address pairs added to the
// configured peers.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MEMBER_ID":      &c.Member.ID,
		"LISTEN_ADDRESS": &c.Member.ListenAddress,
		"STORE_PATH":     &c.Store.Path,
		"TOKEN_SECRET":   &c.Auth.TokenSecret,
		"POLICY_FILE":    &c.Auth.PolicyFile,
		"CERT_FILE":      &c.Federation.CertFile,
		"KEY_FILE":       &c.Federation.KeyFile,
		"CA_FILE":        &c.Federation.CAFile,
		"LOG_LEVEL":      &c.Telemetry.Logging.Level,
		"LOG_FORMAT":     &c.Telemetry.Logging.Format,
	}
	for key, field := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*field = v
		}
	}

	if v, ok := lookup(EnvPrefix + "INSECURE"); ok {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sINSECURE: %w", EnvPrefix, err)
		}
		c.Federation.Insecure = insecure
	}

	if v, ok := lookup(EnvPrefix + "PEERS"); ok && v != "" {
		if c.Federation.Peers == nil {
			c.Federation.Peers = map[string]string{}
		}
		for _, pair := range strings.Split(v, ",") {
			id, addr, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || id == "" || addr == "" {
				return fmt.Errorf("invalid %sPEERS entry %q, want id=address", EnvPrefix, pair)
			}
			c.Federation.Peers[id] = addr
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules spanning fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := make(ValidationErrors, 0, len(verrs))
			for _, fe := range verrs {
				out = append(out, ValidationError{
					Message: fmt.Sprintf("%s fails %q", fe.Namespace(), fe.ActualTag()),
				})
			}
			return out
		}
		return err
	}

	for state := range c.Processors.Intervals {
		if err := engine.OrderState(state).Validate(); err != nil {
			return fmt.Errorf("processors.intervals: %w", err)
		}
	}
	for _, member := range c.Auth.TrustedMembers {
		if member == c.Member.ID {
			return fmt.Errorf("auth.trusted_members must not list the local member %s", member)
		}
	}
	if c.Auth.WatchPolicy && c.Auth.PolicyFile == "" {
		return fmt.Errorf("auth.watch_policy requires auth.policy_file")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
