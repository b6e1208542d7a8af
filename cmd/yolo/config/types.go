// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

type YoloConfig struct {
	// StateRoot is where per-project state directories live.
	StateRoot string `yaml:"state_root" validate:"required"`

	// Tokens configures credential storage.
	Tokens TokensConfig `yaml:"tokens"`

	// API configures the live credential validation endpoint.
	API APIConfig `yaml:"api"`

	// Build configures the agent container image.
	Build BuildConfig `yaml:"build"`

	// Runtime configures the container engine CLI.
	Runtime RuntimeConfig `yaml:"runtime"`
}

type TokensConfig struct {
	Dir string `yaml:"dir" validate:"required"` // e.g. ~/.yolo/tokens
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1,max=300"`
}

type BuildConfig struct {
	// Image is the agent image name; per-project containers are named
	// from the project, not the image.
	Image string `yaml:"image" validate:"required"`

	// Recipe is the build recipe path. Relative paths resolve against
	// the directory yolo is launched from.
	Recipe string `yaml:"recipe" validate:"required"`
}

type RuntimeConfig struct {
	Binary string `yaml:"binary" validate:"required"` // e.g. podman
}

// Validate checks the loaded configuration against the struct tags.
func (c *YoloConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v.Struct(c)
}

func DefaultConfig() YoloConfig {
	root := "~/.yolo"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".yolo")
	}
	return YoloConfig{
		StateRoot: root,
		Tokens: TokensConfig{
			Dir: filepath.Join(root, "tokens"),
		},
		API: APIConfig{
			BaseURL:        "https://api.anthropic.com",
			TimeoutSeconds: 15,
		},
		Build: BuildConfig{
			Image:  "yolo-agent",
			Recipe: "Containerfile.yolo",
		},
		Runtime: RuntimeConfig{
			Binary: "podman",
		},
	}
}
