// Package config loads the voice gateway configuration from flags and
// environment variables, with optional .env and prompt-file overrides.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the voice gateway configuration
type Config struct {
	// HTTP settings
	Addr     string // Address to bind the webhook listener
	LogLevel string

	// PublicBaseURL is the externally reachable base of this service, used
	// to build per-call callback URLs. When empty the inbound request's host
	// is used instead.
	PublicBaseURL string

	// Collaborator endpoints
	CallAutomationEndpoint    string // call-automation service resource URL
	CognitiveServicesEndpoint string // speech resource for built-in recognition
	APIBaseURL                string // conversation API base URL

	// RedisAddr enables the distributed session store when non-empty.
	RedisAddr string

	// VoiceName is the TTS voice used for prompts.
	VoiceName string

	// PromptsPath optionally points to a YAML file overriding the prompts.
	PromptsPath string

	Prompts Prompts
}

// Prompts are the fixed prompt strings spoken by the gateway.
type Prompts struct {
	Greeting     string `yaml:"greeting"`
	SilenceRetry string `yaml:"silence_retry"`
	AgentsError  string `yaml:"agents_error"`
	Goodbye      string `yaml:"goodbye"`
}

// DefaultPrompts returns the built-in prompt strings.
func DefaultPrompts() Prompts {
	return Prompts{
		Greeting:     "Hello, how may I help you today?",
		SilenceRetry: "I am sorry, I did not hear anything. If you need assistance, please let me know how I can help you.",
		AgentsError:  "I am sorry, I am unable to assist you at this time. Please try again later.",
		Goodbye:      "Thank you for calling! I hope I was able to assist you. Have a great day!",
	}
}

// Load loads configuration from command line flags and environment variables.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	// Not an error when missing; deployments set real env vars.
	_ = godotenv.Overload()

	cfg := &Config{Prompts: DefaultPrompts()}

	flag.StringVar(&cfg.Addr, "addr", ":8080", "webhook listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.PromptsPath, "prompts", "", "path to prompts YAML file")
	flag.Parse()

	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if path := os.Getenv("PROMPTS_PATH"); path != "" {
		cfg.PromptsPath = path
	}

	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	cfg.CallAutomationEndpoint = os.Getenv("ACS_ENDPOINT")
	cfg.CognitiveServicesEndpoint = os.Getenv("COGNITIVE_SERVICE_ENDPOINT")
	cfg.APIBaseURL = os.Getenv("API_BASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	cfg.VoiceName = os.Getenv("VOICE_NAME")
	if cfg.VoiceName == "" {
		cfg.VoiceName = "en-US-AvaMultilingualNeural"
	}

	if cfg.CallAutomationEndpoint == "" {
		return nil, fmt.Errorf("ACS_ENDPOINT is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	if cfg.PromptsPath != "" {
		prompts, err := LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, err
		}
		cfg.Prompts = prompts
	}

	return cfg, nil
}

// LoadPrompts reads a YAML prompt file. Fields left empty in the file keep
// their built-in defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()

	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("read prompts file: %w", err)
	}
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return prompts, fmt.Errorf("parse prompts file: %w", err)
	}

	defaults := DefaultPrompts()
	if prompts.Greeting == "" {
		prompts.Greeting = defaults.Greeting
	}
	if prompts.SilenceRetry == "" {
		prompts.SilenceRetry = defaults.SilenceRetry
	}
	if prompts.AgentsError == "" {
		prompts.AgentsError = defaults.AgentsError
	}
	if prompts.Goodbye == "" {
		prompts.Goodbye = defaults.Goodbye
	}
	return prompts, nil
}
