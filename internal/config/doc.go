/*
Package config loads artfave settings from defaults, a config file and the
environment.

# Precedence

	command-line flags        (applied by cmd/artfave)
	ARTFAVE_* environment
	config file               (YAML, or TOML when the name ends in .toml)
	compiled-in defaults

Keys missing from the file keep their default values. Unknown YAML keys are
rejected so that typos surface as CONFIG_LOAD errors instead of being
ignored.

# Example

	global:
	  log_level: INFO
	  metrics_addr: 127.0.0.1:9090
	prefetch:
	  capacity: 11
	  per_item_timeout: 5s
	  batch_timeout: 30s
	source:
	  extensions: [".jpg", ".png", ".webp"]
	  sort_order: name
	  watch: true
	favorites:
	  directory: /home/me/Pictures/favorites

Validate reports the first problem it finds as a CONFIG_VALIDATION error.
*/
package config
