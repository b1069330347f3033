/* Copyright 2024 Loomworks
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/runtime"

	yaml "gopkg.in/yaml.v2"
)

// Config is the daemon's YAML configuration.
type Config struct {
	// StoreFile is the bbolt file for the data store.  Empty
	// means in-memory.
	StoreFile string `yaml:"store"`

	// LogFile is the bbolt file for the message log.  Empty
	// means in-memory.
	LogFile string `yaml:"log"`

	// Definitions is a directory of actor definition files
	// (*.json, *.yaml).
	Definitions string `yaml:"definitions"`

	// Roots name the definitions to instantiate at start.  Their
	// definition names double as their addresses on the wire.
	Roots []string `yaml:"roots"`

	// Timers are armed at start.
	Timers []TimerConfig `yaml:"timers,omitempty"`
}

// TimerConfig declares one timer.  Cron and In are mutually
// exclusive.
type TimerConfig struct {
	Id      string      `yaml:"id"`
	Target  string      `yaml:"target"`
	Type    string      `yaml:"type"`
	Payload interface{} `yaml:"payload,omitempty"`
	Cron    string      `yaml:"cron,omitempty"`
	In      string      `yaml:"in,omitempty"`
}

// ReadConfig parses a YAML config file.
func ReadConfig(filename string) (*Config, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var conf Config
	if err := yaml.Unmarshal(bs, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// stringKeys rewrites YAML's map[interface{}]interface{} maps into
// the map[string]interface{} shape the rest of the system speaks.
func stringKeys(x interface{}) interface{} {
	switch vv := x.(type) {
	case map[interface{}]interface{}:
		acc := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			if s, is := k.(string); is {
				acc[s] = stringKeys(v)
			}
		}
		return acc
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, v := range vv {
			acc[i] = stringKeys(v)
		}
		return acc
	default:
		return x
	}
}

// LoadDefinitions registers every definition file in a directory.
func LoadDefinitions(reg *runtime.Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		bs, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return n, err
		}
		def, err := runtime.ParseActorDef(bs)
		if err != nil {
			return n, err
		}
		if err := reg.AddDef(def); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
