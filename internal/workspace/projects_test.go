package workspace

import (
	"bytes"
	"strings"
	"testing"
)

func sampleIndex() *ProjectsIndex {
	idx := NewProjectsIndex()
	idx.Projects["zeta"] = &Project{
		Repos: []RepoEntry{
			{Path: "/home/dev/zeta-api", Role: "backend"},
			{Path: "/home/dev/zeta-web"},
		},
		Status:         "active",
		CurrentFeature: "checkout-flow",
		LastUpdated:    "2026-01-02T03:04:05Z",
	}
	idx.Projects["alpha"] = &Project{
		Repos: []RepoEntry{{Path: "/home/dev/alpha"}},
	}
	idx.Aliases["z"] = "zeta"
	idx.Aliases["a"] = "alpha"
	return idx
}

func TestSerializeSortsProjectsAndAliasesAlphabetically(t *testing.T) {
	out := string(sampleIndex().Serialize())
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Fatalf("expected alpha before zeta in output:\n%s", out)
	}
	if strings.Index(out, "  a: alpha") > strings.Index(out, "  z: zeta") {
		t.Fatalf("expected alias a before z in output:\n%s", out)
	}
}

func TestProjectsRoundTripFiveCycles(t *testing.T) {
	idx := sampleIndex()
	data := idx.Serialize()
	for cycle := 0; cycle < 5; cycle++ {
		parsed, err := ParseProjects(data)
		if err != nil {
			t.Fatalf("cycle %d: parse: %v", cycle, err)
		}
		next := parsed.Serialize()
		if !bytes.Equal(data, next) {
			t.Fatalf("cycle %d: output drifted:\nprev=%s\nnext=%s", cycle, data, next)
		}
		data = next
	}
}

func TestParseEmptyProjectsBothForms(t *testing.T) {
	braceForm := []byte("projects: {}\nrepo_aliases: {}\n")
	newlineForm := []byte("projects:\nrepo_aliases:\n")

	for _, in := range [][]byte{braceForm, newlineForm} {
		idx, err := ParseProjects(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if len(idx.Projects) != 0 || len(idx.Aliases) != 0 {
			t.Fatalf("expected empty index, got %+v", idx)
		}
		out := idx.Serialize()
		want := []byte("projects:\nrepo_aliases:\n")
		if !bytes.Equal(out, want) {
			t.Fatalf("expected empty index to serialize to newline form, got %q", out)
		}
	}
}

func TestParsePreservesRepoRoles(t *testing.T) {
	data := []byte(`projects:
  myproj:
    repos:
      - path: /a/b
        role: backend
      - path: /a/c
    status: discovered
repo_aliases:
`)
	idx, err := ParseProjects(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, ok := idx.Projects["myproj"]
	if !ok {
		t.Fatalf("expected myproj to be parsed")
	}
	if len(p.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(p.Repos))
	}
	if p.Repos[0].Role != "backend" {
		t.Fatalf("expected first repo role backend, got %q", p.Repos[0].Role)
	}
	if p.Repos[1].Role != "" {
		t.Fatalf("expected second repo to have no role, got %q", p.Repos[1].Role)
	}
	if p.Status != "discovered" {
		t.Fatalf("expected status discovered, got %q", p.Status)
	}
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	data := []byte("projects:\nrepo_aliases:\nextra_stuff:\n  foo: bar\n")
	if _, err := ParseProjects(data); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsMisindentedProjectKey(t *testing.T) {
	data := []byte("projects:\n   bad:\nrepo_aliases:\n")
	if _, err := ParseProjects(data); err == nil {
		t.Fatal("expected error for 3-space indented project key")
	}
}

func TestParseRejectsInvalidProjectName(t *testing.T) {
	data := []byte("projects:\n  1bad:\nrepo_aliases:\n")
	if _, err := ParseProjects(data); err == nil {
		t.Fatal("expected error for project name not matching [A-Za-z][A-Za-z0-9_-]*")
	}
}
