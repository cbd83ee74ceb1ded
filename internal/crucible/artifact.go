package crucible

// Artifact is one named external dependency. Identity is trusted by
// location: the presence of the completion marker is the only
// cache-validity signal, there is no content verification.
type Artifact struct {
	Name        string
	Version     string
	URL         string
	ArchivePath string // already-local archive, used instead of URL when set
	Dir         string // unpacked source tree
	Marker      string // known output file proving the artifact was built
}

// Completed reports whether the artifact's build output is present, in
// which case fetching and building are skipped unless forced.
func (a Artifact) Completed() bool {
	return a.Marker != "" && fileExists(a.Marker)
}
