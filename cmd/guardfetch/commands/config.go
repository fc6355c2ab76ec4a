package commands

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/Lennolium/1Guard-server/pkg/pipeline"
)

// setDefaults registers every key of pipeline.DefaultConfig with v so that
// environment variables are seen by Unmarshal.
func setDefaults(v *viper.Viper) {
	walkKeys("", reflect.ValueOf(pipeline.DefaultConfig()), func(key string, val any) {
		v.SetDefault(key, val)
	})
}

// walkKeys calls fn for every leaf field of a mapstructure-tagged struct.
func walkKeys(prefix string, val reflect.Value, fn func(key string, val any)) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			walkKeys(key, fv, fn)
			continue
		}
		fn(key, fv.Interface())
	}
}

// loadConfig builds the pipeline configuration from defaults, the config
// file, the environment and bound flags, in increasing precedence.
func loadConfig() (pipeline.Config, error) {
	return loadConfigFrom(viper.GetViper())
}

func loadConfigFrom(v *viper.Viper) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
