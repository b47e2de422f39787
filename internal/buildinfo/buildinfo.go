// Package buildinfo exposes compile-time metadata shared across the server.
package buildinfo

// Overridden via ldflags during release builds.
var (
	// Version is the semantic version or git describe output of the binary.
	Version = "dev"

	// Commit is the git commit SHA baked into the binary.
	Commit = "none"

	// BuildDate records when the binary was built in UTC.
	BuildDate = "unknown"
)

// UserAgent is sent on every upstream request.
func UserAgent() string {
	return "poe-openai-proxy/" + Version
}
