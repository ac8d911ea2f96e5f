//go:generate go run ../../tools/gen-env-doc/main.go
package config

import (
	"reflect"
	"strings"
)

type EnvVar struct {
	Key         string // viper key (e.g., "server.port")
	FullName    string // e.g., "LIGHTNING_MCP_SERVER_PORT"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
}

// EnvSpecs lists every setting that can be overridden from the environment.
func EnvSpecs() []EnvVar {
	specs := make([]EnvVar, 0)
	// nolint
	walkConfig(reflect.TypeOf(Config{}), "", func(key string, f reflect.StructField) error {
		specs = append(specs, EnvVar{
			Key:         key,
			FullName:    EnvName(key),
			Type:        f.Type.Kind().String(),
			Default:     f.Tag.Get("envDefault"),
			Description: f.Tag.Get("envInfo"),
		})
		return nil
	})
	return specs
}

// EnvName returns the environment variable overriding key.
func EnvName(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
}
