// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/richinex/skein/approval"
	"github.com/richinex/skein/cycle"
	"github.com/richinex/skein/reveal"
)

// Settings holds all application configuration.
type Settings struct {
	LLM    LLMConfig
	Client ClientConfig
	Server ServerConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// ClientConfig holds the conversational client's tunables.
type ClientConfig struct {
	BackendURL     string
	PollInterval   time.Duration
	RevealInterval time.Duration
	FrameInterval  time.Duration
	ReducedMotion  bool
	CharByChar     bool
}

// ServerConfig holds the development backend configuration.
type ServerConfig struct {
	Addr   string
	DBPath string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	pollInterval, err := getEnvMillis("SKEIN_POLL_INTERVAL_MS", approval.DefaultPollInterval)
	if err != nil {
		return Settings{}, err
	}

	revealInterval, err := getEnvMillis("SKEIN_REVEAL_INTERVAL_MS", reveal.DefaultInterval)
	if err != nil {
		return Settings{}, err
	}

	frameInterval, err := getEnvMillis("SKEIN_FRAME_INTERVAL_MS", cycle.DefaultDebounce)
	if err != nil {
		return Settings{}, err
	}

	reducedMotion, err := getEnvBool("SKEIN_REDUCED_MOTION", false)
	if err != nil {
		return Settings{}, err
	}

	charByChar, err := getEnvBool("SKEIN_CHAR_REVEAL", false)
	if err != nil {
		return Settings{}, err
	}

	// Model from environment or provider default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Client: ClientConfig{
			BackendURL:     getEnvString("SKEIN_BACKEND_URL", "http://localhost:8787"),
			PollInterval:   pollInterval,
			RevealInterval: revealInterval,
			FrameInterval:  frameInterval,
			ReducedMotion:  reducedMotion,
			CharByChar:     charByChar,
		},
		Server: ServerConfig{
			Addr:   getEnvString("SKEIN_ADDR", ":8787"),
			DBPath: getEnvString("SKEIN_DB_PATH", "skein.db"),
		},
	}, nil
}

// RevealConfig maps client settings to the text reveal scheduler's config.
func (c ClientConfig) RevealConfig() reveal.Config {
	return reveal.Config{
		Interval:      c.RevealInterval,
		Frame:         c.FrameInterval,
		ReducedMotion: c.ReducedMotion,
		CharByChar:    c.CharByChar,
	}
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q (supported: %s)",
			provider, strings.Join(SupportedProviders(), ", "))
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// SupportedProviders returns the sorted list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvMillis(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	ms, err := strconv.Atoi(val)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q", key, val)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}
