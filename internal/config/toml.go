package config

import (
	"bytes"

	"github.com/BurntSushi/toml"
)

// tomlParser lets koanf read config.toml files.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
