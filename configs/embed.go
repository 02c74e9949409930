// Package configs embeds biomcp's default configuration template.
//
// `biomcp config init` (cmd/biomcp) writes this template to disk as a
// starting point for a deployment's config file; internal/config.Load
// itself never reads the embedded copy, only whatever the operator
// saves from it.
package configs

import _ "embed"

// DefaultConfigTemplate is the commented YAML template covering every
// key internal/config.Config recognizes.
//
//go:embed default.example.yaml
var DefaultConfigTemplate string
