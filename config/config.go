// Package config loads Watson's settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/watson/llm"
	"github.com/mrsingh-rishi/watson/stt"
	"github.com/mrsingh-rishi/watson/workers"
)

const (
	DefaultConfigFile   = "watson.toml"
	DefaultPrefix       = "!"
	DefaultTempDir      = "./temp"
	DefaultRecordingDir = "./recordings"
	DefaultPromptFile   = "./prompts/recap.txt"
	DefaultShutdownWait = 300
)

type Config struct {
	DiscordToken  string `toml:"discord_token"`
	CommandPrefix string `toml:"command_prefix" validate:"required"`

	TempDir       string `toml:"temp_dir" validate:"required"`
	RecordingsDir string `toml:"recordings_dir" validate:"required"`

	MaxMinutes  int `toml:"recording_max_minutes" validate:"gte=1"`
	WarnMinutes int `toml:"warning_before_stop_minutes" validate:"gte=0,ltfield=MaxMinutes"`

	Language       string `toml:"transcript_language"`
	JunkPhrases    string `toml:"transcript_junk_phrases"`
	WhisperModel   string `toml:"whisper_model" validate:"required"`
	WhisperBaseURL string `toml:"whisper_base_url" validate:"omitempty,url"`
	WhisperAPIKey  string `toml:"whisper_api_key" validate:"required_without=WhisperBaseURL"`
	Workers        int    `toml:"transcribe_workers" validate:"gte=0"`
	QueueSize      int    `toml:"transcribe_queue_size" validate:"gte=1"`

	RecapModel          string `toml:"ollama_recap_model"`
	OllamaHost          string `toml:"ollama_host" validate:"required,url"`
	RecapPromptFile     string `toml:"recap_prompt_file" validate:"required_with=RecapModel"`
	RecapMaxChars       int    `toml:"recap_max_chars" validate:"gte=4"`
	RecapTimeoutSeconds int    `toml:"recap_timeout_seconds" validate:"gte=1"`

	LogLevel  string `toml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `toml:"log_format" validate:"oneof=text json"`
	LogFile   string `toml:"log_file"`

	APIAddr      string `toml:"api_addr"`
	APIJWTSecret string `toml:"api_jwt_secret"`

	TwilioAccountSID string `toml:"twilio_account_sid"`
	TwilioAuthToken  string `toml:"twilio_auth_token" validate:"required_with=TwilioAccountSID"`
	TwilioFrom       string `toml:"twilio_from_number" validate:"required_with=TwilioAccountSID"`
	TwilioAlertTo    string `toml:"twilio_alert_to" validate:"required_with=TwilioAccountSID"`

	ShutdownWaitSeconds int  `toml:"shutdown_wait_seconds" validate:"gte=0"`
	SkipEnvCheck        bool `toml:"skip_env_check"`

	// Path is the file the config was read from, if any.
	Path string `toml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CommandPrefix:       DefaultPrefix,
		TempDir:             DefaultTempDir,
		RecordingsDir:       DefaultRecordingDir,
		MaxMinutes:          30,
		WarnMinutes:         5,
		JunkPhrases:         strings.Join(stt.DefaultJunkPhrases, "|"),
		WhisperModel:        "whisper-1",
		Workers:             runtime.NumCPU(),
		QueueSize:           workers.DefaultQueueSize,
		OllamaHost:          llm.DefaultOllamaHost,
		RecapPromptFile:     DefaultPromptFile,
		RecapMaxChars:       llm.DefaultMaxChars,
		RecapTimeoutSeconds: int(llm.DefaultTimeout / time.Second),
		LogLevel:            "info",
		LogFormat:           "text",
		ShutdownWaitSeconds: DefaultShutdownWait,
	}
}

// Load reads the TOML file named by WATSON_CONFIG, or ./watson.toml when
// present, and applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, explicit := os.LookupEnv("WATSON_CONFIG")
	if !explicit {
		path = DefaultConfigFile
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
			cfg.Path = path
		} else if explicit {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"DISCORD_TOKEN":           &cfg.DiscordToken,
		"BOT_COMMAND_PREFIX":      &cfg.CommandPrefix,
		"WATSON_TEMP_DIR":         &cfg.TempDir,
		"WATSON_RECORDINGS_DIR":   &cfg.RecordingsDir,
		"TRANSCRIPT_LANGUAGE":     &cfg.Language,
		"TRANSCRIPT_JUNK_PHRASES": &cfg.JunkPhrases,
		"WHISPER_MODEL":           &cfg.WhisperModel,
		"WHISPER_BASE_URL":        &cfg.WhisperBaseURL,
		"WHISPER_API_KEY":         &cfg.WhisperAPIKey,
		"OLLAMA_RECAP_MODEL":      &cfg.RecapModel,
		"OLLAMA_HOST":             &cfg.OllamaHost,
		"RECAP_PROMPT_FILE":       &cfg.RecapPromptFile,
		"LOG_LEVEL":               &cfg.LogLevel,
		"LOG_FORMAT":              &cfg.LogFormat,
		"LOG_FILE":                &cfg.LogFile,
		"WATSON_API_ADDR":         &cfg.APIAddr,
		"WATSON_API_JWT_SECRET":   &cfg.APIJWTSecret,
		"TWILIO_ACCOUNT_SID":      &cfg.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN":       &cfg.TwilioAuthToken,
		"TWILIO_FROM_NUMBER":      &cfg.TwilioFrom,
		"TWILIO_ALERT_TO":         &cfg.TwilioAlertTo,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"RECORDING_MAX_MINUTES":       &cfg.MaxMinutes,
		"WARNING_BEFORE_STOP_MINUTES": &cfg.WarnMinutes,
		"TRANSCRIBE_WORKERS":          &cfg.Workers,
		"TRANSCRIBE_QUEUE_SIZE":       &cfg.QueueSize,
		"RECAP_MAX_CHARS":             &cfg.RecapMaxChars,
		"RECAP_TIMEOUT_SECONDS":       &cfg.RecapTimeoutSeconds,
		"SHUTDOWN_WAIT_SECONDS":       &cfg.ShutdownWaitSeconds,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s must be an integer", key)
		}
		*dst = n
	}

	if v, ok := lookup("WATSON_SKIP_ENV_CHECK"); ok && v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			// Any non-empty value skips the check, as before.
			skip = true
		}
		cfg.SkipEnvCheck = skip
	}
	return nil
}

var validate = validator.New()

// Validate checks ranges and required combinations of settings.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate config")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s (%s)", msg, fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxMinutes) * time.Minute
}

func (c *Config) WarnBefore() time.Duration {
	return time.Duration(c.WarnMinutes) * time.Minute
}

func (c *Config) RecapTimeout() time.Duration {
	return time.Duration(c.RecapTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownWait() time.Duration {
	return time.Duration(c.ShutdownWaitSeconds) * time.Second
}

func (c *Config) RecapEnabled() bool { return c.RecapModel != "" }

func (c *Config) APIEnabled() bool { return c.APIAddr != "" }

func (c *Config) TwilioEnabled() bool { return c.TwilioAccountSID != "" }

func (c *Config) Recap() llm.RecapConfig {
	return llm.RecapConfig{
		Host:       c.OllamaHost,
		Model:      c.RecapModel,
		PromptFile: c.RecapPromptFile,
		MaxChars:   c.RecapMaxChars,
		Timeout:    c.RecapTimeout(),
		Retries:    llm.DefaultRetries,
		RetryDelay: llm.DefaultRetryDelay,
	}
}
