package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// Credentials holds the exchange API credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Config holds Vault configuration
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	SecretPath string // KV v2 path, e.g. "secret/data/trading-agent/binance"
	TLSEnabled bool
	CACert     string
}

// Client resolves exchange credentials from HashiCorp Vault, falling back to
// the BINANCE_API_KEY / BINANCE_API_SECRET environment variables when Vault
// is disabled or the secret is missing a field.
type Client struct {
	client *api.Client
	config Config
}

// NewClient creates a new credential client
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// GetCredentials resolves the exchange credentials. Vault wins when enabled
// and readable; the environment covers the rest.
func (c *Client) GetCredentials(ctx context.Context) (*Credentials, error) {
	if c.config.Enabled {
		creds, err := c.readVault(ctx)
		if err == nil && creds.APIKey != "" && creds.SecretKey != "" {
			return creds, nil
		}
		if err != nil {
			return c.fromEnv(fmt.Errorf("vault read failed: %w", err))
		}
	}
	return c.fromEnv(nil)
}

func (c *Client) readVault(ctx context.Context) (*Credentials, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.config.SecretPath)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret at %s", c.config.SecretPath)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	creds := &Credentials{}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	return creds, nil
}

func (c *Client) fromEnv(vaultErr error) (*Credentials, error) {
	creds := &Credentials{
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		SecretKey: os.Getenv("BINANCE_API_SECRET"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		if vaultErr != nil {
			return nil, fmt.Errorf("no credentials in vault or environment: %w", vaultErr)
		}
		return nil, fmt.Errorf("BINANCE_API_KEY / BINANCE_API_SECRET not set")
	}
	return creds, nil
}
