package interfaces

// APIHandler defines the interface that API handlers implement so shared handler
// plumbing can identify them and list the models they serve.
type APIHandler interface {
	// HandlerType returns the type identifier for this API handler.
	HandlerType() string

	// Models returns the models served by this handler, each as a map of
	// OpenAI-compatible model metadata.
	Models() []map[string]any
}
