// Package config loads the ghostype YAML configuration.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/astronerd/ghostype/pkg/asr"
	"github.com/astronerd/ghostype/pkg/configutil"
	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/polish"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: GHOSTYPE_ASR_APP_KEY sets
// asr.app_key.
const EnvPrefix = "GHOSTYPE"

type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	ASR           ASRConfig           `mapstructure:"asr"`
	LLM           VendorConfig        `mapstructure:"llm"`
	Polish        PolishConfig        `mapstructure:"polish"`
	Corpus        CorpusConfig        `mapstructure:"corpus"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ASRConfig struct {
	URL                string                  `mapstructure:"url"`
	AppKey             string                  `mapstructure:"app_key"`
	AccessKey          string                  `mapstructure:"access_key"`
	ResourceID         string                  `mapstructure:"resource_id"`
	ConnectID          string                  `mapstructure:"connect_id"`
	HandshakeTimeoutMS int                     `mapstructure:"handshake_timeout_ms"`
	AckTimeoutMS       int                     `mapstructure:"ack_timeout_ms"`
	ChunkMS            int                     `mapstructure:"chunk_ms"`
	Realtime           bool                    `mapstructure:"realtime"`
	GraceMS            int                     `mapstructure:"grace_ms"`
	Request            protocol.SessionRequest `mapstructure:"request"`
}

// VendorConfig selects a provider and carries its free-form settings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PolishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Prompt    string `mapstructure:"prompt"`
	Threshold int    `mapstructure:"threshold"`
	// Translate, when set, translates every transcript in that direction.
	Translate string `mapstructure:"translate"`
}

type CorpusConfig struct {
	Path string `mapstructure:"path"`
}

type ObservabilityConfig struct {
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	RecordAudio  bool   `mapstructure:"record_audio"`
	// RetentionHours purges older artifacts at startup; 0 keeps everything.
	RetentionHours int `mapstructure:"retention_hours"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// Load reads the file at path. An empty path loads defaults and environment
// overrides only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	req := protocol.DefaultSessionRequest()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("asr.url", asr.DefaultURL)
	v.SetDefault("asr.resource_id", asr.DefaultResourceID)
	// Bound so AutomaticEnv can see them without a file entry.
	v.SetDefault("asr.app_key", "")
	v.SetDefault("asr.access_key", "")
	v.SetDefault("asr.handshake_timeout_ms", int(asr.DefaultHandshakeTimeout.Milliseconds()))
	v.SetDefault("asr.ack_timeout_ms", int(asr.DefaultAckTimeout.Milliseconds()))
	v.SetDefault("asr.chunk_ms", 200)
	v.SetDefault("asr.realtime", true)
	v.SetDefault("asr.grace_ms", int(asr.DefaultGracePeriod.Milliseconds()))
	v.SetDefault("asr.request.user.uid", req.User.UID)
	v.SetDefault("asr.request.audio.format", req.Audio.Format)
	v.SetDefault("asr.request.audio.rate", req.Audio.Rate)
	v.SetDefault("asr.request.audio.bits", req.Audio.Bits)
	v.SetDefault("asr.request.audio.channel", req.Audio.Channel)
	v.SetDefault("asr.request.request.model_name", req.Request.ModelName)
	v.SetDefault("asr.request.request.enable_itn", req.Request.EnableITN)
	v.SetDefault("asr.request.request.enable_punc", req.Request.EnablePunc)
	v.SetDefault("asr.request.request.enable_ddc", req.Request.EnableDDC)
	v.SetDefault("asr.request.request.show_utterances", req.Request.ShowUtterances)
	v.SetDefault("asr.request.request.enable_nonstream", req.Request.EnableNonstream)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("polish.enabled", false)
	v.SetDefault("polish.threshold", polish.DefaultThreshold)
	v.SetDefault("polish.translate", "")
	v.SetDefault("corpus.path", "")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.record_audio", false)
	v.SetDefault("observability.retention_hours", 0)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if c.ASR.Request.Audio.Rate <= 0 || c.ASR.Request.Audio.Bits <= 0 || c.ASR.Request.Audio.Channel <= 0 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "asr.request.audio must have positive rate, bits and channel")
	}
	if c.ASR.ChunkMS <= 0 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "asr.chunk_ms must be positive")
	}
	if c.Observability.RetentionHours < 0 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "observability.retention_hours must not be negative")
	}
	if _, err := polish.ParseLanguage(c.Polish.Translate); err != nil {
		return err
	}
	if c.Polish.Enabled || c.Polish.Translate != "" {
		if err := configutil.RequireString(c.LLM.Provider, "llm.provider"); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
	}
	return nil
}

// ASRSession converts the asr section for asr.Dial. Credentials are checked
// there, so a config without them still loads for offline use.
func (c Config) ASRSession() asr.Config {
	cfg := asr.Config{
		URL:              c.ASR.URL,
		AppKey:           c.ASR.AppKey,
		AccessKey:        c.ASR.AccessKey,
		ResourceID:       c.ASR.ResourceID,
		ConnectID:        c.ASR.ConnectID,
		HandshakeTimeout: configutil.Millis(c.ASR.HandshakeTimeoutMS, asr.DefaultHandshakeTimeout),
		AckTimeout:       configutil.Millis(c.ASR.AckTimeoutMS, asr.DefaultAckTimeout),
		GracePeriod:      configutil.Millis(c.ASR.GraceMS, asr.DefaultGracePeriod),
		Request:          c.ASR.Request,
	}
	if c.ASR.Realtime {
		cfg.ChunkInterval = configutil.Millis(c.ASR.ChunkMS, 0)
	}
	return cfg
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.LLM.Settings = expandSettings(cfg.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
