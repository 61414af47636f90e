// Package config loads the correo daemon configuration.
//
// Values come from built-in defaults, then a YAML file, then CORREO_*
// environment variables (for example CORREO_JWT_SECRET, CORREO_API_PORT).
// Validate reports every problem in one error.
//
// Durations are written the Go way in YAML ("500ms", "30s").
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath), flagPath == "")
//	if err != nil {
//	    return err
//	}
//
// Secrets such as the JWT secret and the InfluxDB token are best set through
// the environment so the file can stay world-readable.
package config
