package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment variable. It has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit variable source, used by tests.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from the lookup source.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested config sections
		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		// Try the primary variable, then the alternate
		value, ok := lookup(envName)
		if (!ok || value == "") && field.Tag.Get("envAlt") != "" {
			value, ok = lookup(field.Tag.Get("envAlt"))
		}
		value = strings.TrimSpace(value)

		// Apply default if not set
		if !ok || value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// time.Duration is an int64 but parsed as "30s", "5m"
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		// Comma-separated, trimmed, empties dropped
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

var (
	validDrivers  = map[string]bool{"postgres": true, "mysql": true, "sqlite": true, "sqlserver": true}
	validModes    = map[string]bool{"json": true, "columns": true}
	validMethods  = map[string]bool{"insert": true, "copy": true}
	validBackends = map[string]bool{"s3": true, "gcs": true, "local": true}
	validLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats  = map[string]bool{"text": true, "json": true}
)

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database
	driver := strings.ToLower(c.Database.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, mysql, sqlite, sqlserver", c.Database.Driver))
	}
	if c.Database.URL == "" {
		switch {
		case driver == "sqlite" && c.Database.Name == "":
			errs = append(errs, "DB_NAME (database file) is required for sqlite when DATABASE_URL is not set")
		case driver != "sqlite" && (c.Database.Host == "" || c.Database.User == "" || c.Database.Name == ""):
			errs = append(errs, "DATABASE_URL or DB_HOST, DB_USER and DB_NAME are required")
		}
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 0-65535", c.Database.Port))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, "DB_CONNECT_TIMEOUT must be positive")
	}

	// Sink
	if strings.TrimSpace(c.Sink.Table) == "" {
		errs = append(errs, "DB_TABLE must not be empty")
	}
	if c.Sink.BatchSize <= 0 {
		errs = append(errs, "BATCH_SIZE must be positive")
	}
	if !validModes[strings.ToLower(c.Sink.Mode)] {
		errs = append(errs, fmt.Sprintf("SINK_MODE (%q) must be one of: json, columns", c.Sink.Mode))
	}
	method := strings.ToLower(c.Sink.WriteMethod)
	if !validMethods[method] {
		errs = append(errs, fmt.Sprintf("SINK_WRITE_METHOD (%q) must be one of: insert, copy", c.Sink.WriteMethod))
	}
	if method == "copy" && driver != "postgres" {
		errs = append(errs, "SINK_WRITE_METHOD=copy requires DB_DRIVER=postgres")
	}
	if c.Sink.RollbackTimeout <= 0 {
		errs = append(errs, "SINK_ROLLBACK_TIMEOUT must be positive")
	}

	// Dispatch
	if c.Dispatch.Concurrency <= 0 {
		errs = append(errs, "DISPATCH_CONCURRENCY must be positive")
	}
	if c.Dispatch.Concurrency > c.Database.MaxConns && c.Database.MaxConns > 0 {
		errs = append(errs, fmt.Sprintf("DISPATCH_CONCURRENCY (%d) must be <= DB_MAX_CONNS (%d)",
			c.Dispatch.Concurrency, c.Database.MaxConns))
	}
	if c.Dispatch.ObjectTimeout < 0 {
		errs = append(errs, "OBJECT_TIMEOUT must be non-negative")
	}

	// Storage
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: s3, gcs, local", c.Storage.Backend))
	}
	if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
		errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	if c.Storage.MaxAttempts <= 0 {
		errs = append(errs, "AWS_MAX_ATTEMPTS must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "SERVER_MAX_BODY_BYTES must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT and SERVER_RATE_BURST must be non-negative")
	}

	// Logging
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Passwords, connection URLs and storage secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: %s, Host: %q, User: %q, Password: %s, Name: %q, MaxConns: %d}, ",
		c.Database.Driver, mask(c.Database.URL), c.Database.Host, c.Database.User,
		mask(c.Database.Password), c.Database.Name, c.Database.MaxConns)
	fmt.Fprintf(&b, "Sink: {Table: %q, BatchSize: %d, Mode: %q, WriteMethod: %q, AutoCreate: %v, ReplaceExisting: %v}, ",
		c.Sink.Table, c.Sink.BatchSize, c.Sink.Mode, c.Sink.WriteMethod, c.Sink.AutoCreate, c.Sink.ReplaceExisting)
	fmt.Fprintf(&b, "Dispatch: {ThrowOnError: %v, Concurrency: %d}, ",
		c.Dispatch.ThrowOnError, c.Dispatch.Concurrency)
	fmt.Fprintf(&b, "Storage: {Backend: %q, Region: %q, SecretKey: %s}, ",
		c.Storage.Backend, c.Storage.Region, mask(c.Storage.SecretKey))
	fmt.Fprintf(&b, "Server: {Addr: %q, APIKeys: %d configured, TrustedProxies: %v}, ",
		c.Server.Addr(), len(c.Server.APIKeys), c.Server.TrustedProxies)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
