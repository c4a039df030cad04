package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type testState struct {
	Memories map[string][]string
	Counts   map[string]uint64
	Note     string
}

func sample() testState {
	return testState{
		Memories: map[string][]string{
			"food":  {"m1", "m2"},
			"color": {"m3"},
		},
		Counts: map[string]uint64{"food": 2},
		Note:   "snapshot",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := MainPath(dir, "default")

	if err := Save(path, sample()); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got testState
	if err := Load(path, &got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Errorf("round trip diverged: %+v", got)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := MainPath(dir, "default")
	if err := Save(path, sample()); err != nil {
		t.Fatal(err)
	}
	// No temp residue after a successful save.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("leftover files: %v", names)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(dir, "junk.bin")
		os.WriteFile(path, []byte("not a snapshot at all"), 0o644)
		var got testState
		if err := Load(path, &got); !errors.Is(err, ErrBadMagic) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		path := filepath.Join(dir, "future.bin")
		raw := append([]byte("CMAP"), 0xFF, 0x00, 0x00, 0x00)
		os.WriteFile(path, raw, 0o644)
		var got testState
		if err := Load(path, &got); !errors.Is(err, ErrVersion) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		path := filepath.Join(dir, "short.bin")
		os.WriteFile(path, []byte("CM"), 0o644)
		var got testState
		if err := Load(path, &got); !errors.Is(err, ErrBadMagic) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		var got testState
		if err := Load(filepath.Join(dir, "absent.bin"), &got); err == nil {
			t.Error("expected error")
		}
	})
}

func TestHeaderLayout(t *testing.T) {
	dir := t.TempDir()
	path := MainPath(dir, "default")
	if err := Save(path, sample()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("CMAP")) {
		t.Error("magic missing")
	}
	if raw[4] != byte(Version) || raw[5] != 0 || raw[6] != 0 || raw[7] != 0 {
		t.Errorf("version bytes = %v", raw[4:8])
	}
}

func TestListTenants(t *testing.T) {
	dir := t.TempDir()
	for _, tenant := range []string{"alpha", "beta"} {
		if err := Save(MainPath(dir, tenant), sample()); err != nil {
			t.Fatal(err)
		}
		if err := Save(LexiconPath(dir, tenant), sample()); err != nil {
			t.Fatal(err)
		}
		if err := Save(AliasPath(dir, tenant), sample()); err != nil {
			t.Fatal(err)
		}
	}
	// A stray non-snapshot file is ignored.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	got := ListTenants(dir)
	if !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("tenants = %v", got)
	}

	if got := ListTenants(filepath.Join(dir, "missing")); got != nil {
		t.Errorf("missing dir = %v", got)
	}
}
