package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig              `json:"server"`
	Database        DatabaseConfig            `json:"database"`
	Providers       map[string]ProviderConfig `json:"providers"`
	DefaultProvider string                    `json:"default_provider"`
	DefaultModel    string                    `json:"default_model"`
	Agent           AgentConfig               `json:"agent"`
	MCP             MCPConfig                 `json:"mcp"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

type ProviderConfig struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

// AgentConfig bounds the agentic tool-use loop.
type AgentConfig struct {
	MaxIterations      int `json:"max_iterations"`
	MaxContextMessages int `json:"max_context_messages"`
}

// MCPConfig points at the external tool-execution peer. An empty command
// disables the peer; only locally registered tools resolve then.
type MCPConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Add config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Check for user config directory
	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".scriptoria"))
	}

	// Set defaults
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "scriptoria")
	viper.SetDefault("database.database", "scriptoria")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("default_provider", "anthropic")
	viper.SetDefault("agent.max_iterations", 10)
	viper.SetDefault("agent.max_context_messages", 50)

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := createDefaultConfig()
			loadEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func createDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "scriptoria",
			Password: "",
			Database: "scriptoria",
			SSLMode:  "disable",
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Type:         "anthropic",
				Name:         "Anthropic",
				Models:       []string{"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
				DefaultModel: "claude-3-sonnet-20240229",
			},
			"openai": {
				Type:         "openai",
				Name:         "OpenAI",
				Models:       []string{"gpt-4", "gpt-3.5-turbo"},
				DefaultModel: "gpt-3.5-turbo",
			},
			"ollama": {
				Type:         "openai-compatible",
				Name:         "Ollama",
				BaseURL:      "http://localhost:11434",
				Models:       []string{}, // Will be discovered dynamically
				DefaultModel: "",
			},
		},
		DefaultProvider: "anthropic",
		Agent: AgentConfig{
			MaxIterations:      10,
			MaxContextMessages: 50,
		},
	}
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("SCRIPTORIA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("SCRIPTORIA_HOST"); host != "" {
		cfg.Server.Host = host
	}

	// Database overrides
	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	// Provider credentials come from the environment so config files can
	// be committed without secrets
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if p, ok := cfg.Providers["anthropic"]; ok {
			p.APIKey = key
			cfg.Providers["anthropic"] = p
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if p, ok := cfg.Providers["openai"]; ok {
			p.APIKey = key
			cfg.Providers["openai"] = p
		}
	}

	if cmd := os.Getenv("SCRIPTORIA_MCP_COMMAND"); cmd != "" {
		cfg.MCP.Command = cmd
	}
}

func (c *Config) Save() error {
	return viper.WriteConfig()
}
