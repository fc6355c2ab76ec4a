package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/Lennolium/1Guard-server/pkg/bypass"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/services"
)

// Config holds all pipeline configuration. Keys follow the mapstructure
// tags so the struct can be filled by viper.
type Config struct {
	Timeouts        fetcher.Timeouts `mapstructure:"timeouts"`
	ForceRemoteOnly bool             `mapstructure:"force_remote_only"`

	// MaxBodySize caps direct and local tool bodies, e.g. "10MB".
	MaxBodySize string `mapstructure:"max_body_size" validate:"required,bytesize"`

	// ProxyURL routes the local tool through an http:// or socks5:// proxy.
	ProxyURL string `mapstructure:"proxy_url" validate:"omitempty,url,proxyurl"`

	Services     services.Config           `mapstructure:"services"`
	Archive      bypass.ArchiveConfig      `mapstructure:"archive"`
	FlareSolverr bypass.FlareSolverrConfig `mapstructure:"flaresolverr"`

	// RaceServices runs the remote services concurrently; the first
	// usable result wins.
	RaceServices bool `mapstructure:"race_services"`
}

// DefaultConfig returns sensible defaults. Services have no credentials and
// the optional fallback stages are off.
func DefaultConfig() Config {
	return Config{
		Timeouts:    fetcher.DefaultTimeouts(),
		MaxBodySize: "10MB",
		Services:    services.DefaultConfig(),
		Archive:     bypass.DefaultArchiveConfig(),
	}
}

// BodyLimit returns MaxBodySize in bytes.
func (c Config) BodyLimit() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("max_body_size: %w", err)
	}
	return int64(n), nil
}

// Validate checks c and reports every invalid key.
func (c Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", configKey(e), formatValidationError(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
		n, err := humanize.ParseBytes(fl.Field().String())
		return err == nil && n > 0
	})
	_ = v.RegisterValidation("proxyurl", func(fl validator.FieldLevel) bool {
		return bypass.SupportedProxyURL(fl.Field().String())
	})
	return v
}

// configKey turns "Config.timeouts.connect" into "timeouts.connect".
func configKey(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "len":
		return fmt.Sprintf("must have length %s", e.Param())
	case "uppercase":
		return "must be upper case"
	case "url":
		return "must be a valid URL"
	case "hostname":
		return "must be a valid hostname"
	case "bytesize":
		return "must be a positive size such as 10MB"
	case "proxyurl":
		return "must be an http:// or socks5:// proxy URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
