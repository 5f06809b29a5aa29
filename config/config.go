package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Port           int    `mapstructure:"port"`
	StagingRoot    string `mapstructure:"staging_root"`
	MetadataPath   string `mapstructure:"metadata_path"`
	StorageBackend string `mapstructure:"storage_backend"` // "local" or "s3"

	// Local storage backend
	StorageRoot   string `mapstructure:"storage_root"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	// S3 storage backend
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// Normalization limits
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
	MaxWidth      int    `mapstructure:"max_width"`
	MaxHeight     int    `mapstructure:"max_height"`
	Quality       int    `mapstructure:"quality"`
	TargetFormat  string `mapstructure:"target_format"`
	ResizeFit     string `mapstructure:"resize_fit"`

	// Staging lifecycle
	CompressStaging      bool `mapstructure:"compress_staging"`
	StagingTTLMinutes    int  `mapstructure:"staging_ttl_minutes"`
	SweepIntervalMinutes int  `mapstructure:"sweep_interval_minutes"`
}

var Config *AppConfig

func LoadConfig(path string) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("staging_root", "./data/staging")
	viper.SetDefault("metadata_path", "./data/metadata")
	viper.SetDefault("storage_backend", "local")
	viper.SetDefault("storage_root", "./data/public")
	viper.SetDefault("public_base_url", "http://localhost:8080/files")
	viper.SetDefault("s3_bucket", "")
	viper.SetDefault("s3_region", "us-east-1")
	viper.SetDefault("s3_endpoint", "")
	viper.SetDefault("max_image_bytes", 10*1024*1024)
	viper.SetDefault("max_width", 1920)
	viper.SetDefault("max_height", 1080)
	viper.SetDefault("quality", 80)
	viper.SetDefault("target_format", "webp")
	viper.SetDefault("resize_fit", "inside")
	viper.SetDefault("compress_staging", false)
	viper.SetDefault("staging_ttl_minutes", 60)
	viper.SetDefault("sweep_interval_minutes", 15)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("⚠️ Could not read config file, using defaults: %v", err)
	}

	var appConfig AppConfig
	if err := viper.Unmarshal(&appConfig); err != nil {
		log.Fatalf("❌ Unable to decode config into struct: %v", err)
	}

	Config = &appConfig

	fmt.Println("✅ Configuration loaded successfully.")
}
