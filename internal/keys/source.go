package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/retry"
)

// DefaultVaultField is the secret field read when none is configured.
const DefaultVaultField = "pem"

var (
	// ErrNoSource indicates that a key source has neither a file nor a vault path.
	ErrNoSource = errors.New("no key source configured")

	// ErrSecretNotFound indicates that the vault secret or field does not exist.
	ErrSecretNotFound = errors.New("secret not found")
)

// Source provides raw key material.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	String() string
}

// FileSource reads key material from the local filesystem.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", s.Path, err)
	}
	return data, nil
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

// VaultSource reads key material from one field of a KV v2 secret.
type VaultSource struct {
	client *vaultapi.Client
	mount  string
	path   string
	field  string
	retry  *retry.Config
}

// NewVaultClient creates a token authenticated vault client.
func NewVaultClient(cfg config.VaultConfig) (*vaultapi.Client, error) {
	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// NewVaultSource creates a source reading mount/data/path.
func NewVaultSource(client *vaultapi.Client, mount, path, field string) *VaultSource {
	if mount == "" {
		mount = "secret"
	}
	if field == "" {
		field = DefaultVaultField
	}
	return &VaultSource{
		client: client,
		mount:  strings.Trim(mount, "/"),
		path:   strings.Trim(path, "/"),
		field:  field,
		retry:  retry.DefaultConfig(),
	}
}

// Load implements Source.
func (s *VaultSource) Load(ctx context.Context) ([]byte, error) {
	fullPath := fmt.Sprintf("%s/data/%s", s.mount, s.path)

	var secret *vaultapi.Secret
	err := retry.Do(ctx, s.retry, func() error {
		var err error
		secret, err = s.client.Logical().ReadWithContext(ctx, fullPath)
		if err != nil {
			var respErr *vaultapi.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode < 500 {
				return retry.Permanent(err)
			}
		}
		return err
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret %s: %w", fullPath, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}
	// KV v2 nests the payload under "data"; soft deleted secrets carry null.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}
	value, ok := data[s.field].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: field %q of %s", ErrSecretNotFound, s.field, fullPath)
	}
	return []byte(value), nil
}

func (s *VaultSource) String() string {
	return fmt.Sprintf("vault:%s/%s#%s", s.mount, s.path, s.field)
}

// NewSource builds the source described by cfg. vault may be nil when cfg
// does not reference a vault path.
func NewSource(cfg config.KeySourceConfig, vault *vaultapi.Client, mount string) (Source, error) {
	switch {
	case cfg.VaultPath != "":
		if vault == nil {
			return nil, fmt.Errorf("key source %s requires vault to be enabled", cfg.VaultPath)
		}
		return NewVaultSource(vault, mount, cfg.VaultPath, cfg.VaultField), nil
	case cfg.File != "":
		return FileSource{Path: cfg.File}, nil
	default:
		return nil, ErrNoSource
	}
}
