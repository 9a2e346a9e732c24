// Package config loads and watches the daemon configuration file
// (default /etc/fritzinfluxdb.yaml).
//
// Top-level sections:
//   - fritzbox: hostname, username, password | password_env, port, tls_enabled,
//     connect_timeout, request_interval (floored at 10s), request_rate,
//     box_tag, timezone, protocols (tr064, lua)
//   - influxdb: version (1|2), hostname, port, tls_enabled, measurement_name;
//     username, password | password_env, database for v1;
//     token | token_env, organisation, bucket for v2
//   - delivery: max_buffer_size, max_batch_size, queue_size, retry_interval,
//     max_retry_interval, tick
//   - metrics: listen (empty disables the self-metrics endpoint)
//   - log_level: debug | info | warn | error
//
// Load(path) reads the YAML file, applies defaults, then SECTION_OPTION
// environment overrides (FRITZBOX_PASSWORD, INFLUXDB_TOKEN, ...), then
// validates. All validation problems are reported together.
//
// Watch(ctx, path, logger, onChange) uses fsnotify on the parent directory and
// calls onChange with every successfully reloaded Config.
package config
