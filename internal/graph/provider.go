package graph

// FileProvider is the minimal capability a rule type can offer its
// dependents: a flat set of file artifacts to consume directly. Richer
// capabilities are narrower interfaces asserted on Expansion.Provider by the
// depending rule type.
type FileProvider interface {
	ProvidedFiles() []*Artifact
}
