package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ICEBERG_EXPLORER_SERVER_ADDRESS.
const EnvPrefix = "ICEBERG_EXPLORER"

// Load builds a configuration from defaults, the YAML file at filePath (if
// non-empty) and ICEBERG_EXPLORER_* environment overrides, then validates it.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		content := substituteEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to filePath as YAML.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvOverrides maps dotted keys onto fields. viper resolves each key to
// ICEBERG_EXPLORER_<SECTION>_<FIELD> and converts the value.
func applyEnvOverrides(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	type override struct {
		key   string
		apply func(v *viper.Viper, key string)
	}

	overrides := []override{
		{"server.address", func(v *viper.Viper, k string) { cfg.Server.Address = v.GetString(k) }},
		{"server.cors_origins", func(v *viper.Viper, k string) { cfg.Server.CORSOrigins = splitList(v.GetString(k)) }},
		{"server.write_timeout", func(v *viper.Viper, k string) { cfg.Server.WriteTimeout = v.GetDuration(k) }},
		{"server.enable_gzip", func(v *viper.Viper, k string) { cfg.Server.EnableGzip = v.GetBool(k) }},
		{"storage.backend", func(v *viper.Viper, k string) { cfg.Storage.Backend = v.GetString(k) }},
		{"storage.project_id", func(v *viper.Viper, k string) { cfg.Storage.ProjectID = v.GetString(k) }},
		{"storage.credentials_file", func(v *viper.Viper, k string) { cfg.Storage.CredentialsFile = v.GetString(k) }},
		{"storage.blob_url", func(v *viper.Viper, k string) { cfg.Storage.BlobURL = v.GetString(k) }},
		{"storage.region", func(v *viper.Viper, k string) { cfg.Storage.Region = v.GetString(k) }},
		{"storage.endpoint", func(v *viper.Viper, k string) { cfg.Storage.Endpoint = v.GetString(k) }},
		{"storage.retry_attempts", func(v *viper.Viper, k string) { cfg.Storage.RetryAttempts = v.GetInt(k) }},
		{"iceberg.workers", func(v *viper.Viper, k string) { cfg.Iceberg.Workers = v.GetInt(k) }},
		{"iceberg.use_library", func(v *viper.Viper, k string) { cfg.Iceberg.UseLibrary = v.GetBool(k) }},
		{"iceberg.max_sample_files", func(v *viper.Viper, k string) { cfg.Iceberg.MaxSampleFiles = v.GetInt(k) }},
		{"bigquery.enabled", func(v *viper.Viper, k string) { cfg.BigQuery.Enabled = v.GetBool(k) }},
		{"observability.log_level", func(v *viper.Viper, k string) { cfg.Observability.LogLevel = v.GetString(k) }},
		{"observability.log_encoding", func(v *viper.Viper, k string) { cfg.Observability.LogEncoding = v.GetString(k) }},
		{"observability.enable_metrics", func(v *viper.Viper, k string) { cfg.Observability.EnableMetrics = v.GetBool(k) }},
		{"observability.enable_tracing", func(v *viper.Viper, k string) { cfg.Observability.EnableTracing = v.GetBool(k) }},
	}

	for _, o := range overrides {
		if err := v.BindEnv(o.key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", o.key, err)
		}
		if v.IsSet(o.key) {
			o.apply(v, o.key)
		}
	}

	// GOOGLE_CLOUD_PROJECT is honoured the way the Google client libraries do.
	if cfg.Storage.ProjectID == "" {
		cfg.Storage.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
