package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

type OdooConfig struct {
	URL     string        `mapstructure:"url"`
	DB      string        `mapstructure:"db"`
	Login   string        `mapstructure:"login"`
	APIKey  string        `mapstructure:"apiKey"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

type EngineConfig struct {
	// AutoConfirmOnPush confirms draft or sent orders before quantities
	// are written back to the remote system.
	AutoConfirmOnPush bool `mapstructure:"autoConfirmOnPush"`
	// CreateBackorderDefault decides what to do with the remaining
	// quantity when a partial shipment is validated and the caller did
	// not state a preference.
	CreateBackorderDefault bool `mapstructure:"createBackorderDefault"`
	// DefaultLabelFormat is handed to the carrier integration when the
	// caller does not ask for a specific format.
	DefaultLabelFormat string `mapstructure:"defaultLabelFormat"`
}

type CarrierConfig struct {
	// URL of the carrier shipment API. Label creation is disabled when
	// empty.
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"apiKey"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Odoo    OdooConfig    `mapstructure:"odoo"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Carrier CarrierConfig `mapstructure:"carrier"`
}

// LoadConfig reads configuration from config.yaml in the given path and
// overrides values from environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.mode", "SERVER_MODE")
	viper.BindEnv("mongo.uri", "MONGO_URI")
	viper.BindEnv("mongo.dbName", "MONGO_DBNAME")
	viper.BindEnv("odoo.url", "ODOO_URL")
	viper.BindEnv("odoo.db", "ODOO_DB")
	viper.BindEnv("odoo.login", "ODOO_LOGIN")
	viper.BindEnv("odoo.apiKey", "ODOO_API_KEY")
	viper.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("engine.autoConfirmOnPush", "ENGINE_AUTO_CONFIRM_ON_PUSH")
	viper.BindEnv("engine.createBackorderDefault", "ENGINE_CREATE_BACKORDER_DEFAULT")
	viper.BindEnv("engine.defaultLabelFormat", "ENGINE_DEFAULT_LABEL_FORMAT")
	viper.BindEnv("carrier.url", "CARRIER_URL")
	viper.BindEnv("carrier.apiKey", "CARRIER_API_KEY")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.dbName", "fulfillment")
	viper.SetDefault("odoo.timeout", 30*time.Second)
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("engine.autoConfirmOnPush", true)
	viper.SetDefault("engine.createBackorderDefault", true)
	viper.SetDefault("engine.defaultLabelFormat", "pdf")
	viper.SetDefault("carrier.timeout", 15*time.Second)

	// The config file is optional, environment variables alone are enough.
	err = viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.Odoo.URL == "" {
		return config, fmt.Errorf("odoo.url is required")
	}

	return
}
