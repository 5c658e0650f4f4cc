package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai/gemini"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述 Gemini 接口配置。API key 不在此处，由用户在会话中提供。
type AIConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewChatModel 使用配置和会话提供的 key 创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	return gemini.NewChatModel(ctx, &gemini.Config{
		APIKey:  apiKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Timeout: c.Timeout,
	})
}

func loadAIConfig() (AIConfig, error) {
	timeout := gemini.DefaultTimeout
	seconds, err := parseOptionalIntEnv("GEMINI_TIMEOUT")
	if err != nil {
		return AIConfig{}, err
	}
	if seconds != nil {
		if *seconds < 0 {
			return AIConfig{}, fmt.Errorf("invalid GEMINI_TIMEOUT value %d: must not be negative", *seconds)
		}
		timeout = time.Duration(*seconds) * time.Second
	}

	return AIConfig{
		BaseURL: getEnvOrDefault("GEMINI_BASE_URL", gemini.DefaultBaseURL),
		Model:   getEnvOrDefault("GEMINI_MODEL", gemini.DefaultModel),
		Timeout: timeout,
	}, nil
}

// ChatConfig 描述会话相关配置。
type ChatConfig struct {
	WelcomeMessage string
	EventBuffer    int
}

func loadChatConfig() (ChatConfig, error) {
	buffer := 32
	override, err := parseOptionalIntEnv("CHAT_EVENT_BUFFER")
	if err != nil {
		return ChatConfig{}, err
	}
	if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return ChatConfig{
		WelcomeMessage: strings.TrimSpace(os.Getenv("CHAT_WELCOME_MESSAGE")),
		EventBuffer:    buffer,
	}, nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level      string
	Format     string
	File       string
	WithCaller bool
}

func loadLogConfig() (LogConfig, error) {
	withCaller, err := parseBoolEnv("LOG_CALLER", false)
	if err != nil {
		return LogConfig{}, err
	}

	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}

	return LogConfig{
		Level:      level,
		Format:     strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		WithCaller: withCaller,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
