// Package config loads the goguard-server configuration file.
//
// YAML (.yaml, .yml) and TOML (.toml) are accepted. Durations are strings
// such as "90s" or "15m". Key material is base64 and may be supplied through
// GOGUARD_* environment variables instead of the file. EngineConfig maps a
// File onto goGuard.DefaultConfig.
package config
