package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Auth struct {
		JWTSecret       string        `mapstructure:"jwtSecret"`
		AccessTokenTTL  time.Duration `mapstructure:"accessTokenTTL"`
		RefreshTokenTTL time.Duration `mapstructure:"refreshTokenTTL"`
		AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"auth"`
	RAG struct {
		GenerationModel string        `mapstructure:"generationModel"`
		EmbeddingModel  string        `mapstructure:"embeddingModel"`
		EmbeddingDim    int           `mapstructure:"embeddingDim"`
		TopK            int           `mapstructure:"topK"`
		Temperature     float32       `mapstructure:"temperature"`
		ProviderTimeout time.Duration `mapstructure:"providerTimeout"`
		CatalogCSVPath  string        `mapstructure:"catalogCSVPath"`
	} `mapstructure:"rag"`
	Uploads struct {
		Dir       string `mapstructure:"dir"`
		MaxSizeMB int    `mapstructure:"maxSizeMB"`
	} `mapstructure:"uploads"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Environment overrides, e.g. VOYAIAGE_REPOSITORIES_POSTGRES_PASSWORD
	v.SetEnvPrefix("VOYAIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}
	return config, nil
}
