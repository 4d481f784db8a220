package config

import (
	_ "embed"

	"courtcrawl/internal/workkey"

	"gopkg.in/yaml.v3"
)

//go:embed counties.yaml
var countiesYAML []byte

func defaultCounties() []workkey.County {
	var out []workkey.County
	if err := yaml.Unmarshal(countiesYAML, &out); err != nil {
		panic("config: bad embedded county list: " + err.Error())
	}
	return out
}
