package pathtype

import "testing"

type fakeMeta struct {
	isDir bool
	ok    bool
}

func (f fakeMeta) LastKnownIsDir(string) (bool, bool) { return f.isDir, f.ok }

type fakeHier struct{ has bool }

func (f fakeHier) HasChildren(string) bool { return f.has }

type fakePending struct {
	isDir bool
	ok    bool
}

func (f fakePending) PendingCreateIsDir(string) (bool, bool) { return f.isDir, f.ok }

func TestInferPrefersMetadataCache(t *testing.T) {
	h := Infer("/w/a", fakeMeta{isDir: true, ok: true}, fakeHier{has: false}, fakePending{})
	if h.Source != SourceMetadataCache || !h.IsDirectory {
		t.Fatalf("expected metadata cache hit, got %+v", h)
	}
}

func TestInferFallsBackToHierarchy(t *testing.T) {
	h := Infer("/w/a", fakeMeta{}, fakeHier{has: true}, fakePending{})
	if h.Source != SourceHierarchyCache || !h.IsDirectory {
		t.Fatalf("expected hierarchy cache hit, got %+v", h)
	}
}

func TestInferFallsBackToPendingCreate(t *testing.T) {
	h := Infer("/w/a", fakeMeta{}, fakeHier{}, fakePending{isDir: false, ok: true})
	if h.Source != SourcePendingCreate || h.IsDirectory {
		t.Fatalf("expected pending-create hit, got %+v", h)
	}
}

func TestInferFallsBackToFilenameHeuristic(t *testing.T) {
	h := Infer("/w/a.txt", fakeMeta{}, fakeHier{}, fakePending{})
	if h.Source != SourceFilenameHeuristic || h.IsDirectory {
		t.Fatalf("expected filename heuristic file classification, got %+v", h)
	}

	h = Infer("/w/README", fakeMeta{}, fakeHier{}, fakePending{})
	if h.Source != SourceFilenameHeuristic || !h.IsDirectory {
		t.Fatalf("expected filename heuristic directory classification, got %+v", h)
	}
}

func TestInferHandlesNilCaches(t *testing.T) {
	h := Infer("/w/a.txt", nil, nil, nil)
	if h.Source != SourceFilenameHeuristic {
		t.Fatalf("expected fallback with nil caches, got %+v", h)
	}
}
