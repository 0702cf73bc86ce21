package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
)

// Load reads a TOML config file into Default()'s base, then applies any
// `env` tag overrides found in the process environment. path may be empty,
// in which case only the environment is consulted.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks cfg's exported fields (one level of struct
// nesting, covering WorkerPoolConfig), coercing any `env`-tagged variable
// present in the environment with golobby/cast.
func applyEnvOverrides(cfg *Config) error {
	return applyEnvOverridesValue(reflect.ValueOf(cfg).Elem())
}

func applyEnvOverridesValue(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct {
			if err := applyEnvOverridesValue(fv); err != nil {
				return err
			}
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		raw, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setFromEnv(fv, raw); err != nil {
			return fmt.Errorf("field %s (env %s): %w", field.Name, envKey, err)
		}
	}
	return nil
}

func setFromEnv(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := cast.FromString(raw, "int64")
		if err != nil {
			return err
		}
		fv.SetInt(v.(int64))
	case reflect.Bool:
		v, err := cast.FromString(raw, "bool")
		if err != nil {
			return err
		}
		fv.SetBool(v.(bool))
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
