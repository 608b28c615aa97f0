package subscription

import (
	"fmt"
	"os"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
)

// File is the on-disk snapshot format.
type File struct {
	Organizations []OrganizationData `yaml:"organizations"`
}

// OrganizationData is one organization's section of the snapshot file.
type OrganizationData struct {
	Organization        string                  `yaml:"organization"`
	Applications        []Application           `yaml:"applications"`
	KeyMappings         []ApplicationKeyMapping `yaml:"keyMappings"`
	ApplicationMappings []ApplicationMapping    `yaml:"applicationMappings"`
	Subscriptions       []Subscription          `yaml:"subscriptions"`
	Issuers             []IssuerSpec            `yaml:"issuers"`
}

// IssuerSpec describes a key manager and where its verification key lives.
// Exactly one of the certificate or JWKS fields is expected.
type IssuerSpec struct {
	Name             string   `yaml:"name"`
	Issuer           string   `yaml:"issuer"`
	Environments     []string `yaml:"environments"`
	ConsumerKeyClaim string   `yaml:"consumerKeyClaim"`
	ScopesClaim      string   `yaml:"scopesClaim"`
	Certificate      string   `yaml:"certificate"`
	CertificateFile  string   `yaml:"certificateFile"`
	JWKS             string   `yaml:"jwks"`
	JWKSFile         string   `yaml:"jwksFile"`
}

// ValidatorFactory builds the validator for an issuer.
type ValidatorFactory func(org string, spec IssuerSpec) (TokenValidator, error)

// Loader reads snapshot files into a Registry.
type Loader struct {
	registry *Registry
	factory  ValidatorFactory
	logger   observability.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger observability.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader that applies snapshots to registry, building
// issuer validators with factory.
func NewLoader(registry *Registry, factory ValidatorFactory, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry: registry,
		factory:  factory,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile reads path and applies it. The registry is left untouched when
// any part of the file is invalid.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read subscription snapshot %s: %w", path, err)
	}
	return l.Load(data)
}

// Load parses a snapshot document and applies it.
func (l *Loader) Load(data []byte) error {
	var file File
	if err := config.DecodeYAML(data, &file); err != nil {
		return err
	}

	snapshots := make(map[string]*Snapshot, len(file.Organizations))
	for i := range file.Organizations {
		org := &file.Organizations[i]
		if org.Organization == "" {
			return fmt.Errorf("organizations[%d]: organization is required", i)
		}
		if _, dup := snapshots[org.Organization]; dup {
			return fmt.Errorf("organizations[%d]: duplicate organization %s", i, org.Organization)
		}

		bindings, err := l.buildIssuers(org)
		if err != nil {
			return err
		}
		for j := range org.Subscriptions {
			if org.Subscriptions[j].Organization == "" {
				org.Subscriptions[j].Organization = org.Organization
			}
		}

		snapshots[org.Organization] = NewSnapshot(Data{
			Applications:        org.Applications,
			KeyMappings:         org.KeyMappings,
			ApplicationMappings: org.ApplicationMappings,
			Subscriptions:       org.Subscriptions,
			Issuers:             bindings,
		})

		l.logger.Debug("subscription snapshot parsed",
			observability.String("organization", org.Organization),
			observability.Int("applications", len(org.Applications)),
			observability.Int("subscriptions", len(org.Subscriptions)),
			observability.Int("issuers", len(bindings)),
		)
	}

	l.registry.Apply(snapshots)
	l.logger.Info("subscription data applied", observability.Int("organizations", len(snapshots)))
	return nil
}

func (l *Loader) buildIssuers(org *OrganizationData) ([]*IssuerBinding, error) {
	bindings := make([]*IssuerBinding, 0, len(org.Issuers))
	for _, spec := range org.Issuers {
		if spec.Issuer == "" {
			return nil, fmt.Errorf("organization %s: issuer is required for key manager %q", org.Organization, spec.Name)
		}
		validator, err := l.factory(org.Organization, spec)
		if err != nil {
			return nil, fmt.Errorf("organization %s: issuer %s: %w", org.Organization, spec.Issuer, err)
		}
		bindings = append(bindings, &IssuerBinding{
			KeyManager:       spec.Name,
			Issuer:           spec.Issuer,
			Environments:     spec.Environments,
			ConsumerKeyClaim: spec.ConsumerKeyClaim,
			ScopesClaim:      spec.ScopesClaim,
			Validator:        validator,
		})
	}
	return bindings, nil
}
