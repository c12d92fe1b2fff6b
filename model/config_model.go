package model

// Config is the application configuration, loaded from the YAML config
// file and overridable through environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	OpenAI   ProviderConfig `yaml:"openai"`
	Qianwen  ProviderConfig `yaml:"qianwen"`
	Redis    RedisConfig    `yaml:"redis"`
	VCS      VCSConfig      `yaml:"vcs"`
	Notify   NotifyConfig   `yaml:"notify"`
	UseQianwen  bool   `yaml:"useQianwen"`
	AdminAPIKey string `yaml:"adminApiKey"`
	WorkerCount int    `yaml:"workerCount"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig holds one LLM provider's connection settings.
type ProviderConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	SSLEnabled bool   `yaml:"sslEnabled"`
}

type VCSConfig struct {
	GithubAPIURL      string `yaml:"githubApiUrl"`
	GitlabInstanceURL string `yaml:"gitlabInstanceUrl"`
}

type NotifyConfig struct {
	WecomBotWebhookURL string `yaml:"wecomBotWebhookUrl"`
	CustomWebhookURL   string `yaml:"customWebhookUrl"`
}

// RepoCredential is the per-repository (GitHub) or per-project (GitLab)
// webhook configuration managed through the admin API and persisted in
// the store. InstanceURL is GitLab-only and optional.
type RepoCredential struct {
	Secret      string `json:"secret"`
	Token       string `json:"token"`
	InstanceURL string `json:"instance_url,omitempty"`
}
