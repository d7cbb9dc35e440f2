package cas

import "testing"

func stateOfEntries(entries ...StateEntry) map[string]StateEntry {
	m := make(map[string]StateEntry, len(entries))
	for _, e := range entries {
		m[e.RelativePath] = e
	}
	return m
}

func TestDiffState(t *testing.T) {
	t.Run("added and deleted", func(t *testing.T) {
		current := stateOfEntries(
			StateEntry{RelativePath: "a", BlobHash: h1},
			StateEntry{RelativePath: "c", BlobHash: h3},
		)
		rows, summary := diffState(current, []ManifestFile{
			{RelativePath: "a", BlobHash: h1},
			{RelativePath: "b", BlobHash: h2},
		})

		if len(rows) != 2 {
			t.Fatalf("len(rows) = %d, want 2 (unchanged paths produce no row)", len(rows))
		}
		if rows[0].RelativePath != "b" || rows[0].Action != ActionAdded || rows[0].BlobHash != h2 {
			t.Errorf("rows[0] = %+v, want b added with H2", rows[0])
		}
		if rows[1].RelativePath != "c" || rows[1].Action != ActionDeleted {
			t.Errorf("rows[1] = %+v, want c deleted", rows[1])
		}
		want := DiffSummary{Added: 1, Deleted: 1, Unchanged: 1}
		if summary != want {
			t.Errorf("summary = %+v, want %+v", summary, want)
		}
	})

	t.Run("updated keeps old hash", func(t *testing.T) {
		current := stateOfEntries(StateEntry{RelativePath: "a", BlobHash: h1})
		rows, summary := diffState(current, []ManifestFile{{RelativePath: "a", BlobHash: h2, SizeBytes: 7}})

		if len(rows) != 1 || rows[0].Action != ActionUpdated {
			t.Fatalf("rows = %+v, want one update", rows)
		}
		if !rows[0].OldBlobHash.Valid || rows[0].OldBlobHash.String != h1 {
			t.Errorf("OldBlobHash = %+v, want %s", rows[0].OldBlobHash, h1)
		}
		if summary.Updated != 1 || !summary.Changed() {
			t.Errorf("summary = %+v", summary)
		}
	})

	t.Run("first snapshot adds everything", func(t *testing.T) {
		rows, summary := diffState(map[string]StateEntry{}, []ManifestFile{
			{RelativePath: "x", BlobHash: h1},
			{RelativePath: "y", BlobHash: h1},
		})
		if len(rows) != 2 || summary.Added != 2 {
			t.Errorf("rows = %d, summary = %+v", len(rows), summary)
		}
	})

	t.Run("identical snapshot changes nothing", func(t *testing.T) {
		current := stateOfEntries(StateEntry{RelativePath: "a", BlobHash: h1})
		rows, summary := diffState(current, []ManifestFile{{RelativePath: "a", BlobHash: h1}})
		if len(rows) != 0 || summary.Changed() {
			t.Errorf("rows = %+v, summary = %+v", rows, summary)
		}
	})
}

func TestResolveState(t *testing.T) {
	// nearest merge first
	chain := []*File{
		{MergeID: "m3", RelativePath: "b", BlobHash: h2, Action: ActionDeleted},
		{MergeID: "m2", RelativePath: "a", BlobHash: h3, Action: ActionUpdated},
		{MergeID: "m1", RelativePath: "a", BlobHash: h1, Action: ActionAdded},
		{MergeID: "m1", RelativePath: "b", BlobHash: h2, Action: ActionAdded},
		{MergeID: "m1", RelativePath: "c", BlobHash: h1, Action: ActionAdded},
	}

	state := resolveState(chain)
	if len(state) != 2 {
		t.Fatalf("state = %+v, want a and c", state)
	}
	if state["a"].BlobHash != h3 {
		t.Errorf("a = %s, want nearest hash %s", state["a"].BlobHash, h3)
	}
	if _, ok := state["b"]; ok {
		t.Error("b should be hidden by its deletion")
	}
}

func TestMaterialize(t *testing.T) {
	current := stateOfEntries(
		StateEntry{RelativePath: "a", BlobHash: h1},
		StateEntry{RelativePath: "z", BlobHash: h3},
	)
	want := stateOfEntries(
		StateEntry{RelativePath: "a", BlobHash: h2},
		StateEntry{RelativePath: "b", BlobHash: h1},
	)

	rows := materialize(current, want)
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}

	// Applying the rows on top of current must yield want exactly.
	chain := append([]*File{}, rows...)
	for _, e := range sortedState(current) {
		chain = append(chain, &File{RelativePath: e.RelativePath, BlobHash: e.BlobHash, Action: ActionAdded})
	}
	got := resolveState(chain)
	if len(got) != len(want) {
		t.Fatalf("resolved = %+v, want %+v", got, want)
	}
	for path, e := range want {
		if got[path].BlobHash != e.BlobHash {
			t.Errorf("%s = %s, want %s", path, got[path].BlobHash, e.BlobHash)
		}
	}
	for _, r := range rows {
		if r.RelativePath != "z" && r.Action != ActionCopied {
			t.Errorf("%s action = %s, want copied", r.RelativePath, r.Action)
		}
	}
}
