package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"tickflow.com/pkg/logger"
)

var validate = validator.New()

// Options tweaks LoadAndWatch. The zero value reads ./config/{service}.yaml.
type Options struct {
	// Paths searched for the config file, in order.
	Paths []string
	// EnvFiles are loaded with godotenv before viper reads the environment.
	// Missing files are ignored.
	EnvFiles []string
	// OnChange runs after a successful hot reload.
	OnChange func()
}

// LoadAndWatch reads config/{service}.yaml into out, lets environment
// variables override it and hot-reloads it on file change.
//
//	QUOTES_SERVICE_FINNHUB_TOKEN overrides finnhub.token
func LoadAndWatch(service string, out interface{}, opts ...Options) (*viper.Viper, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if len(opt.Paths) == 0 {
		opt.Paths = []string{"./config", "."}
	}
	if len(opt.EnvFiles) == 0 {
		opt.EnvFiles = []string{".env"}
	}

	for _, f := range opt.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range opt.Paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := decode(v, out); err != nil {
		return nil, err
	}

	ctx := context.Background()
	logger.Info(ctx, "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name))
		if err := decode(v, out); err != nil {
			logger.Error(ctx, "reload config", zap.Error(err))
			return
		}
		if opt.OnChange != nil {
			opt.OnChange()
		}
	})

	return v, nil
}

func decode(v *viper.Viper, out interface{}) error {
	// ZeroFields: a list shortened in the file must shrink, not merge
	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) { dc.ZeroFields = true }); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// out is not a struct pointer; nothing to validate
			return nil
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
