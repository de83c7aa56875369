package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ENSEMBLE_BROKER_ADDR.
const EnvPrefix = "ENSEMBLE"

// envAliases lists extra environment variable names accepted per key, in
// precedence order after the ENSEMBLE_ name.
var envAliases = map[string][]string{
	"broker.addr":     {"REDIS_ADDR"},
	"broker.password": {"REDIS_PASSWORD"},
	"model.endpoint":  {"CHUTES_API_URL"},
	"model.token":     {"CHUTES_API_TOKEN"},
	"model.name":      {"MODEL_NAME"},
}

// Options locates optional files. Empty paths fall back to ensemble.yaml and
// .env in the working directory when they exist.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load resolves the configuration: defaults, then the config file, then the
// environment. Values from the dotenv file only fill variables that are not
// already set.
func Load(opts Options) (Config, error) {
	if err := loadDotEnv(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(Defaults()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Workers = splitWorkers(cfg.Workers)
	return cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// setDefaults registers every leaf of the defaults struct so AutomaticEnv can
// override keys that no file mentions.
func setDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := value.Field(i)
		if fv.Kind() == reflect.Struct && field.Type.String() != "time.Duration" {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("ensemble")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

// splitWorkers accepts both lists and comma separated entries.
func splitWorkers(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, w := range strings.Split(entry, ",") {
			if w = strings.TrimSpace(w); w != "" {
				out = append(out, w)
			}
		}
	}
	return out
}
