package cmdutil

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

// Decoder decodes an env file.
type Decoder interface {
	Decode() (map[string]string, error)
}

// Populate populates an object with environment variables.
//
// Fields are tagged `env:"KEY"`, `env:"KEY,required"` or `env:"KEY,default=VALUE"`.  The
// environment has precedence over the decoders, earlier decoders have precedence over later
// decoders, and defaults apply last.  Nested structs are populated recursively.
func Populate(object interface{}, decoders ...Decoder) error {
	decoderMap, err := getDecoderMap(decoders)
	if err != nil {
		return err
	}
	return populateInternal(reflect.ValueOf(object), decoderMap, false)
}

// PopulateDefaults populates each tagged field with its default value, ignoring the
// environment.  It is meant for tests.
func PopulateDefaults(object interface{}) error {
	return populateInternal(reflect.ValueOf(object), nil, false)
}

const (
	cannotParseErr              = "cannot parse"
	envKeyNotSetWhenRequiredErr = "env key not set when required"
	expectedPointerErr          = "expected pointer"
	expectedStructErr           = "expected struct"
	fieldTypeNotAllowedErr      = "field type not allowed"
	invalidTagErr               = "invalid tag, must be KEY,{required},{default=DEFAULT_VALUE}"
)

var durationType = reflect.TypeOf(time.Duration(0))

// populateInternal fills reflectValue; a nil decoderMap means "defaults only".
func populateInternal(reflectValue reflect.Value, decoderMap map[string]string, recursive bool) error {
	if reflectValue.Type().Kind() == reflect.Ptr {
		if reflectValue.IsNil() {
			return errors.Errorf("%s: nil %v", expectedPointerErr, reflectValue.Type())
		}
		reflectValue = reflectValue.Elem()
	} else if !recursive {
		return errors.Errorf("%s: %v", expectedPointerErr, reflectValue.Type())
	}
	if reflectValue.Type().Kind() != reflect.Struct {
		return errors.Errorf("%s: %v", expectedStructErr, reflectValue.Type())
	}
	for i := 0; i < reflectValue.NumField(); i++ {
		structField := reflectValue.Type().Field(i)
		if structField.Type.Kind() == reflect.Struct {
			if err := populateInternal(reflectValue.Field(i), decoderMap, true); err != nil {
				return err
			}
			continue
		}
		envTag, err := getEnvTag(structField)
		if err != nil {
			return err
		}
		if envTag == nil {
			continue
		}
		value := envTag.defaultValue
		if decoderMap != nil {
			value = getValue(envTag.key, envTag.defaultValue, decoderMap)
		}
		if value == "" {
			if envTag.required && decoderMap != nil {
				return errors.Errorf("%s: %s %v", envKeyNotSetWhenRequiredErr, envTag.key, reflectValue.Type())
			}
			continue
		}
		parsedValue, err := parseField(structField, value)
		if err != nil {
			return errors.Wrapf(err, "%s", envTag.key)
		}
		reflectValue.Field(i).Set(reflect.ValueOf(parsedValue).Convert(structField.Type))
	}
	return nil
}

func getDecoderMap(decoders []Decoder) (map[string]string, error) {
	env := make(map[string]string)
	for _, decoder := range decoders {
		subEnv, err := decoder.Decode()
		if err != nil {
			return nil, errors.EnsureStack(err)
		}
		for key, value := range subEnv {
			if value != "" {
				if _, ok := env[key]; !ok {
					env[key] = value
				}
			}
		}
	}
	return env, nil
}

func getValue(key string, defaultValue string, decoderMap map[string]string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := decoderMap[key]; value != "" {
		return value
	}
	return defaultValue
}

type envTag struct {
	key          string
	required     bool
	defaultValue string
}

func getEnvTag(structField reflect.StructField) (*envTag, error) {
	tag := structField.Tag.Get("env")
	if tag == "" {
		return nil, nil
	}
	split := strings.SplitN(tag, ",", 2)
	envTag := &envTag{
		key: split[0],
	}
	if len(split) == 1 {
		return envTag, nil
	}
	split = strings.SplitN(strings.TrimSpace(split[1]), "=", 2)
	switch split[0] {
	case "required":
		envTag.required = true
	case "default":
		if len(split) != 2 {
			return nil, errors.Errorf("%s: %s", invalidTagErr, tag)
		}
		envTag.defaultValue = split[1]
	default:
		return nil, errors.Errorf("%s: %s", invalidTagErr, tag)
	}
	return envTag, nil
}

func parseField(structField reflect.StructField, value string) (interface{}, error) {
	if structField.Type == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return d, nil
	}
	switch fieldKind := structField.Type.Kind(); fieldKind {
	case reflect.Bool:
		parsedValue, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return parsedValue, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsedValue, err := strconv.ParseInt(value, 10, structField.Type.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return parsedValue, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsedValue, err := strconv.ParseUint(value, 10, structField.Type.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return parsedValue, nil
	case reflect.Float32, reflect.Float64:
		parsedValue, err := strconv.ParseFloat(value, structField.Type.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return parsedValue, nil
	case reflect.String:
		return value, nil
	case reflect.Slice:
		if structField.Type.Elem().Kind() != reflect.String {
			return nil, errors.Errorf("%s: []%v", fieldTypeNotAllowedErr, structField.Type.Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts, nil
	default:
		return nil, errors.Errorf("%s: %v", fieldTypeNotAllowedErr, fieldKind)
	}
}
