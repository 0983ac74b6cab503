package credentials

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"alphatrader/internal/adapters/config"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/pkg/errors"
)

// AuthType identifies the credential scheme an exchange requires.
type AuthType string

const (
	// AuthAPIKeySecret is an API key plus HMAC secret pair.
	AuthAPIKeySecret AuthType = "api_key_secret"
	// AuthWalletPrivateKey is an EVM wallet address plus signing key.
	AuthWalletPrivateKey AuthType = "wallet_private_key"
)

// SourceType says where credential values come from.
type SourceType string

const (
	SourceEnv    SourceType = "env"
	SourceFile   SourceType = "file"
	SourceInline SourceType = "inline"
)

const minKeyLength = 16

// Descriptor tells the resolver what to load and from where. Var fields
// name environment variables (or keys inside the file for SourceFile);
// Values supplies SourceInline material directly, for tests mostly.
type Descriptor struct {
	Exchange string
	Auth     AuthType
	Source   SourceType

	KeyVar        string
	SecretVar     string
	AddressVar    string
	PrivateKeyVar string
	MainWalletVar string

	Path   string
	Values map[string]string
}

// Bundle holds resolved, validated credentials. Secret material is kept
// in config.Secret so it cannot leak through logging or serialization.
type Bundle struct {
	Exchange string
	Auth     AuthType

	APIKey    config.Secret
	SecretKey config.Secret

	WalletAddress string
	PrivateKey    config.Secret
	// MainWallet is the master address when PrivateKey belongs to an
	// API wallet; empty means the key signs for WalletAddress itself.
	MainWallet string
}

// Resolve loads and validates credentials for a descriptor. All failures
// wrap exchanges.ErrConfiguration so callers can treat missing and
// malformed credentials uniformly.
func Resolve(desc Descriptor) (*Bundle, error) {
	lookup, err := lookupFunc(desc)
	if err != nil {
		return nil, err
	}

	switch desc.Auth {
	case AuthAPIKeySecret:
		return resolveAPIKey(desc, lookup)
	case AuthWalletPrivateKey:
		return resolveWallet(desc, lookup)
	default:
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: unknown auth type %q", desc.Exchange, desc.Auth)
	}
}

func lookupFunc(desc Descriptor) (func(string) string, error) {
	switch desc.Source {
	case SourceEnv, "":
		return os.Getenv, nil
	case SourceFile:
		values, err := godotenv.Read(desc.Path)
		if err != nil {
			return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: read credentials file %s: %v", desc.Exchange, desc.Path, err)
		}
		return func(key string) string { return values[key] }, nil
	case SourceInline:
		return func(key string) string { return desc.Values[key] }, nil
	default:
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: unknown credential source %q", desc.Exchange, desc.Source)
	}
}

func resolveAPIKey(desc Descriptor, lookup func(string) string) (*Bundle, error) {
	apiKey := strings.TrimSpace(lookup(desc.KeyVar))
	secretKey := strings.TrimSpace(lookup(desc.SecretVar))

	if apiKey == "" {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: %s is not set", desc.Exchange, desc.KeyVar)
	}
	if secretKey == "" {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: %s is not set", desc.Exchange, desc.SecretVar)
	}
	if len(apiKey) < minKeyLength {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: api key too short", desc.Exchange)
	}
	if len(secretKey) < minKeyLength {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: secret key too short", desc.Exchange)
	}

	return &Bundle{
		Exchange:  desc.Exchange,
		Auth:      AuthAPIKeySecret,
		APIKey:    config.Secret(apiKey),
		SecretKey: config.Secret(secretKey),
	}, nil
}

func resolveWallet(desc Descriptor, lookup func(string) string) (*Bundle, error) {
	address := strings.TrimSpace(lookup(desc.AddressVar))
	privateKey := strings.TrimSpace(lookup(desc.PrivateKeyVar))
	mainWallet := ""
	if desc.MainWalletVar != "" {
		mainWallet = strings.TrimSpace(lookup(desc.MainWalletVar))
	}

	if address == "" {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: %s is not set", desc.Exchange, desc.AddressVar)
	}
	if privateKey == "" {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: %s is not set", desc.Exchange, desc.PrivateKeyVar)
	}
	if !common.IsHexAddress(address) {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: wallet address is not a valid hex address", desc.Exchange)
	}
	if mainWallet != "" && !common.IsHexAddress(mainWallet) {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: main wallet is not a valid hex address", desc.Exchange)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: invalid private key: %v", desc.Exchange, err)
	}

	// When no master wallet is configured the key must sign for the
	// configured address itself.
	derived := crypto.PubkeyToAddress(key.PublicKey)
	if mainWallet == "" && derived != common.HexToAddress(address) {
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "%s: private key does not match wallet address", desc.Exchange)
	}

	return &Bundle{
		Exchange:      desc.Exchange,
		Auth:          AuthWalletPrivateKey,
		WalletAddress: common.HexToAddress(address).Hex(),
		PrivateKey:    config.Secret(strings.TrimPrefix(privateKey, "0x")),
		MainWallet:    mainWallet,
	}, nil
}
