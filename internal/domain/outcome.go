package domain

// Outcome is the result of processing one uploaded file.
//
// InputPath and ArtifactPath reference transient files owned by the caller
// until the batch that holds the outcome is cleaned up.
type Outcome struct {
	Success      bool
	Filename     string
	ResolvedKey  string
	ErrorMessage string
	InputPath    string
	ArtifactPath string
}

// Paths returns the non-empty file paths referenced by the outcome.
func (o Outcome) Paths() []string {
	paths := make([]string, 0, 2)
	if o.InputPath != "" {
		paths = append(paths, o.InputPath)
	}
	if o.ArtifactPath != "" {
		paths = append(paths, o.ArtifactPath)
	}
	return paths
}
