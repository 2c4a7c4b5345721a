package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultDebounceInterval = 500 * time.Millisecond
	defaultMinQueryLength   = 3
	defaultLookupTimeout    = 4 * time.Second
	defaultQuoteTimeout     = 6 * time.Second
	defaultMaxCandidates    = 5
	defaultCurrency         = "ARS"
	defaultCountryHint      = "AR"
	defaultFinalizedTopic   = "order-finalized"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Auth      AuthConfig
	Geocoder  GeocoderConfig
	Shipping  ShippingConfig
	Cart      CartSourceConfig
	Orders    OrdersConfig
	Identity  IdentityConfig
	Events    EventsConfig
	Checkout  CheckoutConfig
	Transfer  TransferConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AuthConfig holds shopper token verification settings.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
}

// GeocoderConfig points at the address-search collaborator.
type GeocoderConfig struct {
	BaseURL       string
	CountryHint   string
	MaxCandidates int
	Timeout       time.Duration
}

// ShippingConfig points at the shipping-cost collaborator.
type ShippingConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CartSourceConfig points at the cart source of truth.
type CartSourceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// OrdersConfig points at the order-creation collaborator.
type OrdersConfig struct {
	BaseURL string
	Timeout time.Duration
}

// IdentityConfig points at the identity/guest-provisioning collaborator.
type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// EventsConfig controls the order-finalized event publisher.
type EventsConfig struct {
	ProjectID      string
	FinalizedTopic string
}

// TransferConfig holds the store bank coordinates shown for transfer payments.
type TransferConfig struct {
	BankName string
	CBU      string
	Alias    string
	Holder   string
}

// CheckoutConfig tunes the checkout orchestration behaviour.
type CheckoutConfig struct {
	DebounceInterval time.Duration
	MinQueryLength   int
	Currency         string
}

// Load reads configuration from the environment, optionally seeded by a local
// .env file. Environment variables always win over file values.
func Load() (Config, error) {
	fileValues, err := readEnvFile(defaultEnvFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) string {
		if value, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fileValues[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringOr(lookup("API_PORT"), defaultPort),
			ReadTimeout:  durationOr(lookup("API_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(lookup("API_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(lookup("API_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup("API_FIRESTORE_EMULATOR_HOST"),
		},
		Auth: AuthConfig{
			SigningSecret: lookup("API_AUTH_SIGNING_SECRET"),
			Issuer:        lookup("API_AUTH_ISSUER"),
		},
		Geocoder: GeocoderConfig{
			BaseURL:       lookup("API_GEOCODER_BASE_URL"),
			CountryHint:   stringOr(lookup("API_GEOCODER_COUNTRY"), defaultCountryHint),
			MaxCandidates: intOr(lookup("API_GEOCODER_MAX_CANDIDATES"), defaultMaxCandidates),
			Timeout:       durationOr(lookup("API_GEOCODER_TIMEOUT"), defaultLookupTimeout),
		},
		Shipping: ShippingConfig{
			BaseURL: lookup("API_SHIPPING_BASE_URL"),
			Timeout: durationOr(lookup("API_SHIPPING_TIMEOUT"), defaultQuoteTimeout),
		},
		Cart: CartSourceConfig{
			BaseURL: lookup("API_CART_BASE_URL"),
			Timeout: durationOr(lookup("API_CART_TIMEOUT"), defaultLookupTimeout),
		},
		Orders: OrdersConfig{
			BaseURL: lookup("API_ORDERS_BASE_URL"),
			Timeout: durationOr(lookup("API_ORDERS_TIMEOUT"), defaultQuoteTimeout),
		},
		Identity: IdentityConfig{
			BaseURL: lookup("API_IDENTITY_BASE_URL"),
			Timeout: durationOr(lookup("API_IDENTITY_TIMEOUT"), defaultLookupTimeout),
		},
		Events: EventsConfig{
			ProjectID:      stringOr(lookup("API_EVENTS_PROJECT_ID"), lookup("API_FIRESTORE_PROJECT_ID")),
			FinalizedTopic: stringOr(lookup("API_EVENTS_FINALIZED_TOPIC"), defaultFinalizedTopic),
		},
		Checkout: CheckoutConfig{
			DebounceInterval: durationOr(lookup("API_CHECKOUT_DEBOUNCE"), defaultDebounceInterval),
			MinQueryLength:   intOr(lookup("API_CHECKOUT_MIN_QUERY"), defaultMinQueryLength),
			Currency:         stringOr(lookup("API_CHECKOUT_CURRENCY"), defaultCurrency),
		},
		Transfer: TransferConfig{
			BankName: lookup("API_TRANSFER_BANK_NAME"),
			CBU:      lookup("API_TRANSFER_CBU"),
			Alias:    lookup("API_TRANSFER_ALIAS"),
			Holder:   lookup("API_TRANSFER_HOLDER"),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		missing = append(missing, "API_FIRESTORE_PROJECT_ID")
	}
	if cfg.Auth.SigningSecret == "" {
		missing = append(missing, "API_AUTH_SIGNING_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}
	if cfg.Checkout.MinQueryLength < 1 {
		return fmt.Errorf("config: minimum query length must be positive")
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines, ignoring comments and blank lines.
// A missing file is not an error.
func readEnvFile(path string) (map[string]string, error) {
	values := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func stringOr(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationOr(value string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func intOr(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
