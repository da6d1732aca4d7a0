// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package configutil loads and validates the YAML configuration files used
// by every binary in this module (the origin-style "extends" chaining lets a
// deployment-specific config layer defaults from a shared base file).
package configutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when a chain of "extends" fields loops back on itself.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps field-level validation failures produced while loading
// a config.
type ValidationError struct {
	Errors validator.ErrorMap
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Errors.Error())
}

// ErrForField returns the validation errors for the given struct field, if any.
func (e ValidationError) ErrForField(field string) validator.ErrorArray {
	return e.Errors[field]
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// Load reads the config at path into cfg, transparently merging any files
// named by "extends" fields (base file first, path last), and validates the
// result exactly once.
func Load(path string, cfg interface{}) error {
	filenames, err := resolveExtends(path, readExtends)
	if err != nil {
		return err
	}
	return loadFiles(cfg, filenames)
}

// loadFiles merges filenames into cfg in order, so that later files override
// fields set by earlier ones, then validates the merged result.
func loadFiles(cfg interface{}, filenames []string) error {
	for _, fname := range filenames {
		data, err := os.ReadFile(fname)
		if err != nil {
			return fmt.Errorf("read %s: %s", fname, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("unmarshal %s: %s", fname, err)
		}
	}
	if err := validator.Validate(cfg); err != nil {
		if errs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errs}
		}
		return err
	}
	return nil
}

// readExtends returns the "extends" field of the yaml file at fname, relative
// to fname's own directory, or "" if absent.
func readExtends(fname string) (string, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return "", fmt.Errorf("read %s: %s", fname, err)
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", fmt.Errorf("unmarshal %s: %s", fname, err)
	}
	if stub.Extends == "" {
		return "", nil
	}
	if filepath.IsAbs(stub.Extends) {
		return stub.Extends, nil
	}
	return filepath.Join(filepath.Dir(fname), stub.Extends), nil
}

// resolveExtends walks the "extends" chain starting at fpath, returning the
// files to merge in base-to-override order. lookupExtends is injected so the
// chain-walking logic can be tested without touching the filesystem.
func resolveExtends(fpath string, lookupExtends func(string) (string, error)) ([]string, error) {
	visited := make(map[string]bool)
	var chain []string

	current := fpath
	for {
		if visited[current] {
			return nil, ErrCycleRef
		}
		visited[current] = true
		chain = append([]string{current}, chain...)

		target, err := lookupExtends(current)
		if err != nil {
			return nil, err
		}
		if target == "" {
			break
		}
		current = target
	}
	return chain, nil
}
