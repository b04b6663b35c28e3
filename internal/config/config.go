// Package config resolves the summarizer configuration from a YAML file,
// the environment and command line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

const FileName = "papersum.yaml"

const (
	BackendLangSmith = "langsmith"
	BackendLocal     = "local"

	ClientOpenAIGo = "openai-go"
	ClientGoOpenAI = "go-openai"
)

type Config struct {
	Port string `yaml:"port" json:"port" jsonschema:"description=HTTP listen port"`

	Backend   string `yaml:"backend" json:"backend" jsonschema:"enum=langsmith,enum=local"`
	LLMClient string `yaml:"llm_client" json:"llm_client" jsonschema:"enum=openai-go,enum=go-openai"`
	LLMURL    string `yaml:"llm_url" json:"llm_url" jsonschema:"description=OpenAI compatible base URL"`
	Model     string `yaml:"model" json:"model" jsonschema:"description=Model repository id"`
	HFToken   string `yaml:"-" json:"-"`

	LangSmithURL    string `yaml:"langsmith_url" json:"langsmith_url"`
	LangSmithAPIKey string `yaml:"-" json:"-"`
	HubURL          string `yaml:"hub_url" json:"hub_url" jsonschema:"description=Prompt hub web URL used for sidebar links"`
	Project         string `yaml:"project" json:"project" jsonschema:"description=Tracing project runs are recorded under"`

	DatasetName         string  `yaml:"dataset_name" json:"dataset_name"`
	PromptName          string  `yaml:"prompt_name" json:"prompt_name"`
	OptimizerPromptName string  `yaml:"optimizer_prompt_name" json:"optimizer_prompt_name"`
	FeedbackKey         string  `yaml:"feedback_key" json:"feedback_key"`
	NumFewShots         int     `yaml:"num_few_shots" json:"num_few_shots" jsonschema:"minimum=0"`
	PromptBatchSize     int     `yaml:"prompt_batch_size" json:"prompt_batch_size" jsonschema:"minimum=1"`
	Temperature         float64 `yaml:"temperature" json:"temperature" jsonschema:"minimum=0,maximum=1.5"`

	DataDir string `yaml:"data_dir" json:"data_dir" jsonschema:"description=Directory of the local backend stores"`

	PostHogURL    string `yaml:"posthog_url" json:"posthog_url"`
	PostHogAPIKey string `yaml:"-" json:"-"`

	LogLevel  string `yaml:"log_level" json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	LogFormat string `yaml:"log_format" json:"log_format" jsonschema:"enum=text,enum=json"`

	RatePerMinute int `yaml:"rate_per_minute" json:"rate_per_minute" jsonschema:"description=Summaries per client per minute; 0 disables limiting"`

	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies,omitempty" jsonschema:"description=Proxy addresses or CIDRs whose X-Forwarded-For header is honored"`
}

const (
	MinTemperature = 0.0
	MaxTemperature = 1.5
)

func Default() Config {
	return Config{
		Port:                "8000",
		Backend:             BackendLangSmith,
		LLMClient:           ClientOpenAIGo,
		LLMURL:              "https://router.huggingface.co/v1",
		Model:               "mistralai/Mistral-7B-Instruct-v0.2",
		LangSmithURL:        "https://api.smith.langchain.com",
		HubURL:              "https://smith.langchain.com/hub",
		Project:             "paper-summarizer",
		DatasetName:         "Paper Summarizer",
		PromptName:          "louup/tweet-critic-fewshot",
		OptimizerPromptName: "louup/convo-optimizer",
		FeedbackKey:         "summary_quality",
		NumFewShots:         10,
		PromptBatchSize:     5,
		Temperature:         1.0,
		DataDir:             filepath.FromSlash(".papersum"),
		PostHogURL:          "https://eu.posthog.com/capture/",
		LogLevel:            "info",
		LogFormat:           "text",
		RatePerMinute:       6,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. Credentials are only ever read
// from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("GOPORT", &c.Port)
	str("PAPERSUM_BACKEND", &c.Backend)
	str("PAPERSUM_LLM_CLIENT", &c.LLMClient)
	str("PAPERSUM_LLM_URL", &c.LLMURL)
	str("PAPERSUM_MODEL", &c.Model)
	str("HUGGINGFACEHUB_API_TOKEN", &c.HFToken)
	str("LANGCHAIN_ENDPOINT", &c.LangSmithURL)
	str("LANGCHAIN_API_KEY", &c.LangSmithAPIKey)
	str("LANGCHAIN_PROJECT", &c.Project)
	str("PAPERSUM_DATASET", &c.DatasetName)
	str("PAPERSUM_PROMPT", &c.PromptName)
	str("PAPERSUM_OPTIMIZER_PROMPT", &c.OptimizerPromptName)
	str("PAPERSUM_DATA_DIR", &c.DataDir)
	str("POSTHOG_API_KEY", &c.PostHogAPIKey)
	str("PAPERSUM_LOG_LEVEL", &c.LogLevel)
	str("PAPERSUM_LOG_FORMAT", &c.LogFormat)

	ints := []struct {
		key string
		dst *int
	}{
		{"PAPERSUM_NUM_FEW_SHOTS", &c.NumFewShots},
		{"PAPERSUM_PROMPT_BATCH_SIZE", &c.PromptBatchSize},
		{"PAPERSUM_RATE_PER_MINUTE", &c.RatePerMinute},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", i.key, v, err)
		}
		*i.dst = n
	}

	if v := getenv("PAPERSUM_TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.TrustedProxies = append(c.TrustedProxies, p)
			}
		}
	}

	if v := getenv("PAPERSUM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PAPERSUM_TEMPERATURE=%q: %w", v, err)
		}
		c.Temperature = f
	}

	return nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("missing port")
	}
	switch c.Backend {
	case BackendLangSmith:
		if c.LangSmithAPIKey == "" {
			return errors.New("LANGCHAIN_API_KEY environment variable not set")
		}
	case BackendLocal:
		if c.DataDir == "" {
			return errors.New("missing data_dir for local backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.LLMClient {
	case ClientOpenAIGo, ClientGoOpenAI:
	default:
		return fmt.Errorf("unknown llm_client %q", c.LLMClient)
	}
	if c.Model == "" {
		return errors.New("missing model")
	}
	if c.DatasetName == "" || c.PromptName == "" || c.OptimizerPromptName == "" {
		return errors.New("dataset_name, prompt_name and optimizer_prompt_name are required")
	}
	if c.NumFewShots < 0 {
		return errors.New("num_few_shots must be >= 0")
	}
	if c.PromptBatchSize < 1 {
		return errors.New("prompt_batch_size must be >= 1")
	}
	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be within [%.1f, %.1f]", MinTemperature, MaxTemperature)
	}
	if c.RatePerMinute < 0 {
		return errors.New("rate_per_minute must be >= 0")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = FileName

	return json.MarshalIndent(schema, "", "  ")
}
