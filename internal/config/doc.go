// Package config provides environment-based configuration.
//
// Loads from .env file (godotenv), maps to Config struct via go-simpler/env struct tags.
// Validates wallet keys, the clearnode URL, and allocation amounts at startup.
package config
