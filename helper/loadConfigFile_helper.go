package helper

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
)

// LoadConfigFile fills cfg from the YAML config file (path from
// CONFIG_FILE, defaulting to config_file/review-config.yaml), applies
// environment overrides and finally the built-in defaults. A missing
// file is fine: env-only deployments are supported.
func LoadConfigFile(cfg *model.Config) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config_file/review-config.yaml"
	}
	f, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("Config file %s not readable (%v), relying on environment", path, err)
	} else if err := yaml.Unmarshal(f, cfg); err != nil {
		log.Errorf("Failed to parse config file %s: %v", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
}

func applyEnvOverrides(cfg *model.Config) {
	setStr := func(dst *string, env string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, env string) {
		if v, ok := os.LookupEnv(env); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Errorf("Invalid integer in %s: %q", env, v)
				return
			}
			*dst = n
		}
	}
	setBool := func(dst *bool, env string) {
		if v, ok := os.LookupEnv(env); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				log.Errorf("Invalid boolean in %s: %q", env, v)
				return
			}
			*dst = b
		}
	}

	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.AdminAPIKey, "ADMIN_API_KEY")
	setInt(&cfg.WorkerCount, "WORKER_COUNT")

	setStr(&cfg.OpenAI.BaseURL, "OPENAI_API_BASE_URL")
	setStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.OpenAI.Model, "OPENAI_MODEL")
	setStr(&cfg.Qianwen.BaseURL, "QIANWEN_API_BASE_URL")
	setStr(&cfg.Qianwen.APIKey, "QIANWEN_API_KEY")
	setStr(&cfg.Qianwen.Model, "QIANWEN_MODEL")
	setBool(&cfg.UseQianwen, "USE_QIANWEN")

	setStr(&cfg.VCS.GithubAPIURL, "GITHUB_API_URL")
	setStr(&cfg.VCS.GitlabInstanceURL, "GITLAB_INSTANCE_URL")
	setStr(&cfg.Notify.WecomBotWebhookURL, "WECOM_BOT_WEBHOOK_URL")
	setStr(&cfg.Notify.CustomWebhookURL, "CUSTOM_WEBHOOK_URL")

	setStr(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.SSLEnabled, "REDIS_SSL_ENABLED")
}

func applyDefaults(cfg *model.Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 20
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.Qianwen.BaseURL == "" {
		cfg.Qianwen.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	if cfg.Qianwen.Model == "" {
		cfg.Qianwen.Model = "qwen-plus"
	}
	if cfg.VCS.GithubAPIURL == "" {
		cfg.VCS.GithubAPIURL = "https://api.github.com"
	}
	if cfg.VCS.GitlabInstanceURL == "" {
		cfg.VCS.GitlabInstanceURL = "https://gitlab.com"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
}
