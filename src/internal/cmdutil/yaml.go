package cmdutil

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

// YAMLDecoder is a Decoder that reads a flat YAML mapping of env keys to scalar values, e.g.
//
//	SEEKIDX_LOCK_TTL: 30s
//	SEEKIDX_S3_REGION: us-east-1
//
// A missing file decodes to an empty map.
type YAMLDecoder struct {
	Path string
}

var _ Decoder = YAMLDecoder{}

// Decode implements Decoder.
func (d YAMLDecoder) Decode() (map[string]string, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.EnsureStack(err)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse %s", d.Path)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case []interface{}:
			var s string
			for i, e := range v {
				if i > 0 {
					s += ","
				}
				s += fmt.Sprint(e)
			}
			out[k] = s
		case map[string]interface{}:
			return nil, errors.Errorf("%s: key %q must be a scalar or a list", d.Path, k)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
