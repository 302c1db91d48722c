// Copyright 2025 Certen Protocol
//
// Package config persists the core's configuration as a JSON document,
// per spec section 6's explicit requirement that JSON is the only on-disk
// format. Grounded on the teacher's pkg/config.Config for field naming and
// validation style, adapted from env-var loading to JSON load/save — the
// env-var convention is documented as a deliberate deviation in the
// project's expanded specification, not silently dropped.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// MerkleConfig selects the Merkle tree's hash algorithm and structural
// options.
type MerkleConfig struct {
	HashAlgorithm    string `json:"hash_algorithm"`
	DomainSeparation bool   `json:"domain_separation"`
	LeafSalting      bool   `json:"leaf_salting"`
	MaxHeight        int    `json:"max_height"`
}

// VerificationConfig bounds the verification orchestrator's behavior.
type VerificationConfig struct {
	ResourceLimitMB        int           `json:"resource_limit_mb"`
	Timeout                time.Duration `json:"timeout"`
	MaxConcurrent          int           `json:"max_concurrent"`
	VerifyAll              bool          `json:"verify_all"`
	VerifyStateTransitions bool          `json:"verify_state_transitions"`
}

// DatabaseConfig configures the replay environment's pooled backend client.
type DatabaseConfig struct {
	BackendVersion     string        `json:"backend_version"`
	PoolSize           int           `json:"pool_size"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`
	StatementTimeout   time.Duration `json:"statement_timeout"`
	PreparedStatements bool          `json:"prepared_statements"`
}

// ChallengeConfig configures the bond-pricing and challenge-ledger
// collaborator.
type ChallengeConfig struct {
	BaseBondCoefficient uint64        `json:"base_bond_coefficient"`
	LoadFactor          float64       `json:"load_factor"`
	MaxChallenges       int           `json:"max_challenges"`
	Timeout             time.Duration `json:"timeout"`
	PriorityLevels      int           `json:"priority_levels"`
}

// Config is the full persisted configuration document.
type Config struct {
	Merkle       MerkleConfig       `json:"merkle"`
	Verification VerificationConfig `json:"verification"`
	Database     DatabaseConfig     `json:"database"`
	Challenge    ChallengeConfig    `json:"challenge"`
	LogLevel     string             `json:"log_level"`
	Debug        bool               `json:"debug"`
}

// Default returns a Config with conservative defaults, matching the
// teacher's Load()'s fallback-value convention.
func Default() *Config {
	return &Config{
		Merkle: MerkleConfig{
			HashAlgorithm:    "sha-256",
			DomainSeparation: true,
			LeafSalting:      false,
			MaxHeight:        32,
		},
		Verification: VerificationConfig{
			ResourceLimitMB:        512,
			Timeout:                30 * time.Second,
			MaxConcurrent:          8,
			VerifyAll:              false,
			VerifyStateTransitions: true,
		},
		Database: DatabaseConfig{
			BackendVersion:     "postgres-15",
			PoolSize:           10,
			ConnectionTimeout:  5 * time.Second,
			StatementTimeout:   10 * time.Second,
			PreparedStatements: true,
		},
		Challenge: ChallengeConfig{
			BaseBondCoefficient: 50,
			LoadFactor:          1.0,
			MaxChallenges:       1000,
			Timeout:             24 * time.Hour,
			PriorityLevels:      3,
		},
		LogLevel: "info",
		Debug:    false,
	}
}

var validAlgorithms = map[string]bool{"sha-256": true, "blake2s": true, "keccak-256": true}

// Validate enforces the ranges and enumerations the core relies on at
// initialization, per spec section 7: a configuration error is fatal.
func (c *Config) Validate() error {
	if !validAlgorithms[c.Merkle.HashAlgorithm] {
		return fmt.Errorf("config: invalid merkle hash_algorithm %q", c.Merkle.HashAlgorithm)
	}
	if c.Merkle.MaxHeight <= 0 || c.Merkle.MaxHeight > 64 {
		return fmt.Errorf("config: merkle max_height %d out of range", c.Merkle.MaxHeight)
	}
	if c.Verification.MaxConcurrent <= 0 {
		return fmt.Errorf("config: verification max_concurrent must be positive")
	}
	if c.Verification.Timeout <= 0 {
		return fmt.Errorf("config: verification timeout must be positive")
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("config: database pool_size must be positive")
	}
	if c.Database.ConnectionTimeout <= 0 || c.Database.StatementTimeout <= 0 {
		return fmt.Errorf("config: database timeouts must be positive")
	}
	if c.Challenge.MaxChallenges <= 0 {
		return fmt.Errorf("config: challenge max_challenges must be positive")
	}
	if c.Challenge.PriorityLevels <= 0 {
		return fmt.Errorf("config: challenge priority_levels must be positive")
	}
	return nil
}

// Load reads and validates a Config from a JSON file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save serializes c as indented JSON to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
