// Package config handles configuration loading for localslackirc.
//
// # Sources
//
// Settings are layered, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML or TOML file (Load); .toml selects TOML
//  3. Environment variables (ApplyEnv)
//  4. Command line flags, applied by the binary
//
// The token and cookie may be given directly or read from files, of which
// only the first line counts (ResolveSecrets).
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	slack:
//	  token: "${SLACK_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
//	PORT, IP_ADDRESS, OVERRIDE_LOCAL_IP, TOKEN, COOKIE,
//	AUTOJOIN, NOUSERLIST, RC_URL, STATUS_FILE, LOG_SUFFIX
//
// Boolean variables are true only when set to "true" in any case.
//
// # Configuration Structure
//
//	server:
//	  ip: "127.0.0.1"
//	  port: 9007
//	  override_local_ip: false
//	  password_hash: ""        # bcrypt hash checked against PASS
//	  poll_interval: "2s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "localslackirc"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""
//	  ephemeral: false
//
//	slack:
//	  token_file: "~/.localslackirc"
//	  cookie_file: ""
//
//	rocket:
//	  url: ""                  # set to use Rocket.Chat instead of Slack
//
//	gateway:
//	  autojoin: false
//	  nouserlist: false
//	  mpim_hide_delay: "1200h"
//
//	status:
//	  driver: file             # file, sqlite or redis
//	  path: ""
//	  redis_addr: ""
//	  redis_key: "localslackirc:status"
//
//	health:
//	  addr: ""                 # e.g. 127.0.0.1:9008
//
//	logging:
//	  level: info
//	  format: text
//	  suffix: ""
//
// # Validation
//
// Validate refuses a non 127.x listen address unless overridden or served
// over Tailscale, requires a token, and requires a cookie for xoxc- Slack
// tokens.
package config
