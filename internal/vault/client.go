// Package vault reads exchange and bot credentials from a HashiCorp Vault
// KV v2 mount. The client is optional: when disabled it leaves the
// environment-sourced configuration untouched.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"choch-scanner/config"
)

// Credentials is the secret material the scanner may hold in Vault instead
// of the environment.
type Credentials struct {
	BinanceAPIKey    string `json:"binance_api_key"`
	BinanceSecretKey string `json:"binance_secret_key"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a Vault client. A disabled configuration yields a client
// whose reads are no-ops.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether reads hit a live Vault server.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// ReadCredentials fetches the credential secret from the configured KV v2
// path. Missing keys come back empty rather than failing; a missing secret
// is an error so startup can name the path.
func (c *Client) ReadCredentials(ctx context.Context) (*Credentials, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	return &Credentials{
		BinanceAPIKey:    stringField(data, "binance_api_key"),
		BinanceSecretKey: stringField(data, "binance_secret_key"),
		TelegramBotToken: stringField(data, "telegram_bot_token"),
		TelegramChatID:   stringField(data, "telegram_chat_id"),
	}, nil
}

// Apply overrides the configuration's credential fields with whatever the
// secret carries. Empty secret fields leave the environment values in place.
func (creds *Credentials) Apply(cfg *config.Config) {
	if creds.BinanceAPIKey != "" {
		cfg.BinanceConfig.APIKey = creds.BinanceAPIKey
	}
	if creds.BinanceSecretKey != "" {
		cfg.BinanceConfig.SecretKey = creds.BinanceSecretKey
	}
	if creds.TelegramBotToken != "" {
		cfg.TelegramConfig.BotToken = creds.TelegramBotToken
	}
	if creds.TelegramChatID != "" {
		cfg.TelegramConfig.ChatID = creds.TelegramChatID
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
