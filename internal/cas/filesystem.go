package cas

// FilesystemManager discovers the files a directory ingest stores.
type FilesystemManager interface {
	// Resolve makes rawPath absolute, stats it and rejects anything that is
	// not a regular file or a directory.
	Resolve(rawPath string) (*Path, error)

	// FindFiles returns the regular files below dir, recursively, in
	// lexical path order, leaving out ignored paths.
	FindFiles(dir *Path) ([]*Path, error)
}
