package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	JWTSecret            string        `env:"JWT_SECRET,required,notEmpty,unset"`
	JWTIssuer            string        `env:"JWT_ISSUER" envDefault:"berrymix-auth"`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	EmailVerificationTTL time.Duration `env:"EMAIL_VERIFICATION_TTL" envDefault:"1h"`
	PasswordResetTTL     time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"30m"`
	OAuthLinkByEmail     bool          `env:"OAUTH_LINK_BY_EMAIL" envDefault:"true"`

	AccessCookieName  string `env:"ACCESS_COOKIE_NAME" envDefault:"berrymix_acc_token"`
	RefreshCookieName string `env:"REFRESH_COOKIE_NAME" envDefault:"berrymix_ref_token"`
	RefreshCookiePath string `env:"REFRESH_COOKIE_PATH" envDefault:"/auth/refresh"`
	FrontendURL       string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS,unset"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"BerryMix"`
	SMTPUseSSL   bool   `env:"SMTP_USE_SSL" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD,unset"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,unset"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET,unset"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction indica si el servicio corre en producción (cookies Secure, logs JSON).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}
