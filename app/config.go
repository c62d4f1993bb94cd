package vanish

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	// PublicURL is the externally visible base URL. Clients append the room
	// path and key fragment to it when they mint invite links.
	PublicURL string `mapstructure:"public_url" validate:"required,url"`
	// AllowedOrigins is a list of origins that are allowed to connect to the
	// server. The default is ["*"].
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Store          struct {
		// MessageTTL is the maximum age of an undelivered message.
		MessageTTL time.Duration `mapstructure:"message_ttl" validate:"required"`
		// EmptyRoomGrace is how long an empty room survives before the sweep
		// reclaims it.
		EmptyRoomGrace time.Duration `mapstructure:"empty_room_grace" validate:"required"`
		// SweepInterval is the period of the eviction sweep.
		SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`
	}
	valid bool
}

// LoadConfig loads the configuration from the config file and environment
// variables. Any invalid configuration will not be loaded, and the error will
// be caught in the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("hostname", "0.0.0.0")
	viper.SetDefault("public_url", "http://localhost:8080")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("store.message_ttl", 24*time.Hour)
	viper.SetDefault("store.empty_room_grace", 5*time.Minute)
	viper.SetDefault("store.sweep_interval", time.Minute)

	if err := viper.ReadInConfig(); err != nil {
		// running without a config file is fine; everything has a default
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range translated {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
