package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "INTENTIONS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "intentions.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultIssuer         = "intentions-api"
	defaultTokenTTL       = 60
	defaultTimezone       = "UTC"
	defaultAutosaveDelay  = 2 * time.Second
	defaultStashPath      = "drafts"
	defaultSMTPPort       = 587
	defaultIdentityIssuer = "https://appleid.apple.com"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	LogFormat        string
	SigningSecret    string
	TokenIssuer      string
	TokenAudience    string
	TokenTTL         time.Duration
	Location         *time.Location
	AutosaveDelay    time.Duration
	StashPath        string
	PremiumProductID string
	Identity         IdentityConfig
	SMTP             SMTPConfig
}

// IdentityConfig enables third-party sign-in when ClientID and JWKSURL are set.
type IdentityConfig struct {
	ClientID string
	JWKSURL  string
	Issuers  []string
}

// Enabled reports whether third-party sign-in is configured.
func (c IdentityConfig) Enabled() bool {
	return c.ClientID != "" && c.JWKSURL != ""
}

// SMTPConfig configures outbound mail. An empty Host logs mail instead of sending it.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	BaseURL     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("calendar.timezone", defaultTimezone)
	configViper.SetDefault("debrief.autosave_delay", defaultAutosaveDelay)
	configViper.SetDefault("debrief.stash_path", defaultStashPath)
	configViper.SetDefault("subscription.premium_product_id", entitlement.DefaultPremiumProductID)
	configViper.SetDefault("identity.issuers", []string{defaultIdentityIssuer})
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.from_name", "Intentions")

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"auth.signing_secret", "auth.audience", "identity.client_id", "identity.jwks_url",
		"smtp.host", "smtp.username", "smtp.password", "smtp.from_address", "smtp.base_url",
	} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	timezone := strings.TrimSpace(configViper.GetString("calendar.timezone"))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("calendar.timezone %q: %w", timezone, err)
	}

	cfg := AppConfig{
		HTTPAddress:      strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:     strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenIssuer:      strings.TrimSpace(configViper.GetString("auth.issuer")),
		TokenAudience:    strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		Location:         location,
		AutosaveDelay:    configViper.GetDuration("debrief.autosave_delay"),
		StashPath:        strings.TrimSpace(configViper.GetString("debrief.stash_path")),
		PremiumProductID: strings.TrimSpace(configViper.GetString("subscription.premium_product_id")),
		Identity: IdentityConfig{
			ClientID: strings.TrimSpace(configViper.GetString("identity.client_id")),
			JWKSURL:  strings.TrimSpace(configViper.GetString("identity.jwks_url")),
			Issuers:  splitList(configViper.GetStringSlice("identity.issuers")),
		},
		SMTP: SMTPConfig{
			Host:        strings.TrimSpace(configViper.GetString("smtp.host")),
			Port:        configViper.GetInt("smtp.port"),
			Username:    configViper.GetString("smtp.username"),
			Password:    configViper.GetString("smtp.password"),
			FromAddress: strings.TrimSpace(configViper.GetString("smtp.from_address")),
			FromName:    configViper.GetString("smtp.from_name"),
			BaseURL:     strings.TrimSpace(configViper.GetString("smtp.base_url")),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Environment variables arrive as one comma separated string.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenIssuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.AutosaveDelay <= 0 {
		return fmt.Errorf("debrief.autosave_delay must be positive")
	}
	if c.StashPath == "" {
		return fmt.Errorf("debrief.stash_path is required")
	}
	if c.SMTP.Host != "" && c.SMTP.FromAddress == "" {
		return fmt.Errorf("smtp.from_address is required when smtp.host is set")
	}
	if (c.Identity.ClientID == "") != (c.Identity.JWKSURL == "") {
		return fmt.Errorf("identity.client_id and identity.jwks_url must be set together")
	}
	return nil
}
