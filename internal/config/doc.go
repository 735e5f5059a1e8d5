// Package config handles configuration loading for helpdesk-gateway.
//
// # Configuration File
//
// Location (first match wins):
//
//  1. The --config flag
//  2. Path from the HELPDESK_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/helpdesk/gateway.yaml (~/.config when unset)
//
// Files ending in .toml are parsed as TOML; anything else is YAML. A .env
// file in the working directory is loaded into the environment first, so
// secrets can live there.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${HELPDESK_JWT_SECRET}"
//	facebook:
//	  app_secret: "${FACEBOOK_APP_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax ("30m", "24h", "5h30m"). The
// display offset may be negative ("-3h").
//
// # Example
//
//	server:
//	  http_addr: ":8000"
//	database:
//	  driver: postgres
//	  host: localhost
//	  name: helpdesk
//	  user: helpdesk
//	  password: "${POSTGRES_PASSWORD}"
//	auth:
//	  jwt_secret: "${HELPDESK_JWT_SECRET}"
//	  token_expire: "30m"
//	facebook:
//	  app_id: "${FACEBOOK_APP_ID}"
//	  app_secret: "${FACEBOOK_APP_SECRET}"
//	  verify_token: "${FACEBOOK_VERIFY_TOKEN}"
//	conversation:
//	  continuity_window: "24h"
//	  display_utc_offset: "5h30m"
//	metrics:
//	  enabled: true
package config
