// Package config loads the lnharness configuration file.
//
// One YAML document configures logging, the lightningd launch defaults,
// where releases are downloaded from, the artifact index database, and the
// optional MQTT, InfluxDB and control API integrations. Every section has a
// default, so running without a file is valid.
//
// Values are resolved in order: defaults, then the file, then LNHARNESS_*
// environment variables (for example LNHARNESS_MQTT_HOST or
// LNHARNESS_LIGHTNINGD_RPC_PORT).
//
// Credentials (MQTT password, InfluxDB token) are best supplied through the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv(config.PathEnv))
//	if err != nil {
//	    return err
//	}
package config
