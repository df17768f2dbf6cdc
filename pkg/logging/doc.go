// Package logging provides the structured logging used across mcpmux's
// components, built on log/slog.
//
// Init is cheap to skip: before Initcommon/InitForCLI is called, Debug/Info/
// Warn/Error (and Audit) silently drop the message rather than panicking,
// so packages can log during early bootstrap without caring whether the
// CLI has wired a logger yet.
//
// Each call site supplies a subsystem tag naming the emitting component
// ("activeset", "dispatcher", "upstream", "app", "adder", "catalog", ...),
// which shows up as a structured attribute rather than a free-text prefix.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("activeset", "admitted %s (active=%v)", name, active)
//	logging.Error("upstream", err, "HTTP server error")
package logging
