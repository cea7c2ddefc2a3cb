// Package config loads runtime configuration for the bugsync client.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see SetDefaults).
//  2. An optional config file (JSON, YAML or TOML), given with --config or
//     found as bugsync.{json,yaml,toml} in the user config directory.
//  3. Environment variables prefixed with BUGSYNC_, dots in keys become
//     underscores: remote.api_key is BUGSYNC_REMOTE_API_KEY.
//  4. Command-line flags bound by the CLI.
//
// Example file:
//
//	remote:
//	  url: https://example.supabase.co
//	  api_key: eyJhbGciOi...
//	feed:
//	  mode: realtime
//	  poll_interval: 5s
package config
