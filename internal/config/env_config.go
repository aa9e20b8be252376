// Package config loads settings from the environment, optionally seeded from
// a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	// ErrInvalidConfig is returned when cfg is not a pointer to a struct.
	ErrInvalidConfig = errors.New("config must be a pointer to a struct")

	// ErrVarNotSet is returned when a variable without default is missing.
	ErrVarNotSet = errors.New("env var not set")

	// ErrUnsupportedVarType is returned for field kinds Parse cannot fill.
	ErrUnsupportedVarType = errors.New("unsupported env var type")
)

// Load reads the given dotenv files (".env" when none are given) into the
// process environment and then calls Parse. Missing files are ignored;
// variables already set in the environment win over file values.
func Load(cfg any, namespace string, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}

	return Parse(cfg, namespace)
}

// Parse fills cfg from environment variables. Fields are bound with an `env`
// tag and may carry a `default`; nested structs extend the name with their
// `envPrefix`. The final variable name is NAMESPACE_PREFIX_TAG.
func Parse(cfg any, namespace string) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return ErrInvalidConfig
	}

	if namespace != "" {
		namespace += "_"
	}

	return parse(namespace, v.Elem())
}

func parse(prefix string, v reflect.Value) error {
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := parse(prefix+field.Tag.Get("envPrefix"), v.Field(i)); err != nil {
				return err
			}
			continue
		}

		if err := parseField(prefix, field, v.Field(i)); err != nil {
			return fmt.Errorf("parse field %s: %w", field.Name, err)
		}
	}

	return nil
}

func parseField(prefix string, field reflect.StructField, value reflect.Value) error {
	envTag := field.Tag.Get("env")
	if envTag == "" {
		return nil
	}

	name := prefix + envTag
	raw, ok := os.LookupEnv(name)
	if !ok {
		def, hasDefault := field.Tag.Lookup("default")
		if !hasDefault {
			return fmt.Errorf("%w: %s", ErrVarNotSet, name)
		}
		raw = def
	}

	//nolint:exhaustive
	switch field.Type.Kind() {
	case reflect.String:
		value.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		value.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		value.SetBool(b)
	default:
		return fmt.Errorf("%w: %s (%v)", ErrUnsupportedVarType, name, field.Type.Kind())
	}

	return nil
}
