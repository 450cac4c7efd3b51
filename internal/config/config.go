// Package config loads the realm configuration from a YAML file and
// LDAPREALM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldaprealm/internal/ldap"
	"github.com/isometry/ldaprealm/internal/realm"
)

// EnvPrefix prefixes every environment override, e.g. LDAPREALM_CONNECTION_HOST.
const EnvPrefix = "LDAPREALM"

const redacted = "********"

// Config is the complete realm configuration.
//
// Sources in order of precedence:
//  1. Environment variables (LDAPREALM_*)
//  2. Configuration file
//  3. Struct tag defaults
type Config struct {
	Realm      RealmConfig            `mapstructure:"realm" yaml:"realm"`
	Connection ldap.ConnectionConfig  `mapstructure:"connection" yaml:"connection"`
	User       ldap.UserSearchConfig  `mapstructure:"user" yaml:"user"`
	Group      ldap.GroupSearchConfig `mapstructure:"group" yaml:"group"`
}

// RealmConfig holds settings of the realm itself.
type RealmConfig struct {
	Name string `mapstructure:"name" yaml:"name" default:"LdapRealm" validate:"required"`
}

// keys lists every setting that may be overridden from the environment.
// AutomaticEnv only resolves keys viper already knows about.
var keys = []string{
	"realm.name",
	"connection.host",
	"connection.port",
	"connection.pool_size",
	"connection.bind_dn",
	"connection.bind_password",
	"connection.timeout",
	"connection.use_tls",
	"connection.start_tls",
	"connection.insecure_skip_verify",
	"connection.ca_cert_file",
	"connection.ca_cert",
	"user.base_dn",
	"user.id_attribute",
	"user.object_class",
	"user.additional_attributes",
	"group.base_dn",
	"group.member_attribute",
	"group.object_class",
}

// Load reads configPath, applies environment overrides and defaults, and
// validates the result. A missing file is not an error; the configuration
// then comes from the environment alone.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return nil
}

// readConfigFile reports whether a configuration file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if v.ConfigFileUsed() == "" {
		return false, nil
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// Validate checks cfg against its validate tags. DN-valued settings must
// parse as distinguished names.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("dn", isDN); err != nil {
		return fmt.Errorf("failed to register dn validation: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return formatValidationErrors(invalid)
		}
		return err
	}
	return nil
}

func isDN(fl validator.FieldLevel) bool {
	return ldap.ValidateDNSyntax(fl.Field().String()) == nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "dn":
			msgs = append(msgs, fmt.Sprintf("%s is not a valid distinguished name: %q", field, fe.Value()))
		case "file":
			msgs = append(msgs, fmt.Sprintf("%s must name an existing file: %q", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Dump renders cfg as YAML with the bind password redacted. Durations are
// written in time.ParseDuration form so the output loads back unchanged.
func Dump(cfg *Config) ([]byte, error) {
	conn := cfg.Connection
	out := dumpConfig{
		Realm: cfg.Realm,
		Connection: dumpConnection{
			Host:               conn.Host,
			Port:               conn.Port,
			PoolSize:           conn.PoolSize,
			BindDN:             conn.BindDN,
			BindPassword:       conn.BindPassword,
			Timeout:            conn.Timeout.String(),
			UseTLS:             conn.UseTLS,
			StartTLS:           conn.StartTLS,
			InsecureSkipVerify: conn.InsecureSkipVerify,
			CACertFile:         conn.CACertFile,
			CACert:             conn.CACert,
		},
		User:  cfg.User,
		Group: cfg.Group,
	}
	if out.Connection.BindPassword != "" {
		out.Connection.BindPassword = redacted
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

type dumpConfig struct {
	Realm      RealmConfig            `yaml:"realm"`
	Connection dumpConnection         `yaml:"connection"`
	User       ldap.UserSearchConfig  `yaml:"user"`
	Group      ldap.GroupSearchConfig `yaml:"group"`
}

// dumpConnection is ldap.ConnectionConfig as written by Dump.
type dumpConnection struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	PoolSize           int    `yaml:"pool_size"`
	BindDN             string `yaml:"bind_dn"`
	BindPassword       string `yaml:"bind_password"`
	Timeout            string `yaml:"timeout"`
	UseTLS             bool   `yaml:"use_tls"`
	StartTLS           bool   `yaml:"start_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CACertFile         string `yaml:"ca_cert_file"`
	CACert             string `yaml:"ca_cert"`
}

// RealmOptions returns the realm options implied by cfg.
func (c *Config) RealmOptions() []realm.Option {
	return []realm.Option{realm.WithName(c.Realm.Name)}
}
