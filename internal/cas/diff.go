package cas

import (
	"database/sql"
	"slices"
	"strings"
)

// resolveState folds chain files, nearest merge first, into the visible
// state: the first row seen per path wins and a deleted row hides the path.
func resolveState(chain []*File) map[string]StateEntry {
	state := make(map[string]StateEntry)
	seen := make(map[string]struct{}, len(chain))
	for _, f := range chain {
		if _, ok := seen[f.RelativePath]; ok {
			continue
		}
		seen[f.RelativePath] = struct{}{}
		if f.Action == ActionDeleted {
			continue
		}
		state[f.RelativePath] = StateEntry{
			RelativePath:   f.RelativePath,
			BlobHash:       f.BlobHash,
			SizeBytes:      f.SizeBytes,
			FileModifiedAt: f.FileModifiedAt,
		}
	}
	return state
}

// sortedState returns the entries of state ordered by path.
func sortedState(state map[string]StateEntry) []StateEntry {
	entries := make([]StateEntry, 0, len(state))
	for _, e := range state {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b StateEntry) int {
		return strings.Compare(a.RelativePath, b.RelativePath)
	})
	return entries
}

// diffState compares the current state with the incoming files and returns
// the rows to persist. Unchanged paths are counted but produce no row.
// Deleted rows keep the last hash in both blob_hash and old_blob_hash.
func diffState(current map[string]StateEntry, files []ManifestFile) ([]*File, DiffSummary) {
	var rows []*File
	var summary DiffSummary

	incoming := make(map[string]struct{}, len(files))
	for _, f := range files {
		incoming[f.RelativePath] = struct{}{}

		prev, ok := current[f.RelativePath]
		switch {
		case !ok:
			summary.Added++
			rows = append(rows, &File{
				RelativePath:   f.RelativePath,
				BlobHash:       f.BlobHash,
				Action:         ActionAdded,
				SizeBytes:      f.SizeBytes,
				FileModifiedAt: f.FileModifiedAt,
			})
		case prev.BlobHash != f.BlobHash:
			summary.Updated++
			rows = append(rows, &File{
				RelativePath:   f.RelativePath,
				BlobHash:       f.BlobHash,
				OldBlobHash:    sql.NullString{String: prev.BlobHash, Valid: true},
				Action:         ActionUpdated,
				SizeBytes:      f.SizeBytes,
				FileModifiedAt: f.FileModifiedAt,
			})
		default:
			summary.Unchanged++
		}
	}

	for _, prev := range sortedState(current) {
		if _, ok := incoming[prev.RelativePath]; ok {
			continue
		}
		summary.Deleted++
		rows = append(rows, deletedRow(prev))
	}
	return rows, summary
}

// materialize returns the rows that make a target whose state is current
// resolve to exactly want: every path of want is copied and every other
// path of current is deleted.
func materialize(current, want map[string]StateEntry) []*File {
	var rows []*File
	for _, e := range sortedState(want) {
		rows = append(rows, &File{
			RelativePath:   e.RelativePath,
			BlobHash:       e.BlobHash,
			Action:         ActionCopied,
			SizeBytes:      e.SizeBytes,
			FileModifiedAt: e.FileModifiedAt,
		})
	}
	for _, prev := range sortedState(current) {
		if _, ok := want[prev.RelativePath]; ok {
			continue
		}
		rows = append(rows, deletedRow(prev))
	}
	return rows
}

func deletedRow(prev StateEntry) *File {
	return &File{
		RelativePath: prev.RelativePath,
		BlobHash:     prev.BlobHash,
		OldBlobHash:  sql.NullString{String: prev.BlobHash, Valid: true},
		Action:       ActionDeleted,
	}
}
