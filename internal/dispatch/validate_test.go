package dispatch

import "testing"

func TestCheckBoundedRejectsEmpty(t *testing.T) {
	if err := checkBounded("query", "", maxQuery); err == nil {
		t.Fatal("expected error for empty value")
	}
}

func TestCheckBoundedRejectsTooLong(t *testing.T) {
	long := make([]byte, maxQuery+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := checkBounded("query", string(long), maxQuery); err == nil {
		t.Fatal("expected error for over-length value")
	}
}

func TestCheckBoundedAcceptsWithinBound(t *testing.T) {
	if err := checkBounded("query", "workstation", maxQuery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolvePathAcceptsHomeRooted(t *testing.T) {
	roots := PathRoots{Home: "/home/dev", Temp: "/tmp", Install: "/usr/local/varie"}
	got, err := ResolvePath("/home/dev/project", roots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/dev/project" {
		t.Fatalf("unexpected resolved path: %q", got)
	}
}

func TestResolvePathExpandsTilde(t *testing.T) {
	roots := PathRoots{Home: "/home/dev", Temp: "/tmp", Install: "/usr/local/varie"}
	got, err := ResolvePath("~/project", roots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/dev/project" {
		t.Fatalf("unexpected resolved path: %q", got)
	}
}

func TestResolvePathRejectsOutsideRoots(t *testing.T) {
	roots := PathRoots{Home: "/home/dev", Temp: "/tmp", Install: "/usr/local/varie"}
	if _, err := ResolvePath("/etc/passwd", roots); err == nil {
		t.Fatal("expected error for path outside permitted roots")
	}
}

func TestResolvePathNormalisesDotDot(t *testing.T) {
	roots := PathRoots{Home: "/home/dev", Temp: "/tmp", Install: "/usr/local/varie"}
	if _, err := ResolvePath("/home/dev/project/../../etc", roots); err == nil {
		t.Fatal("expected .. traversal out of home to be rejected")
	}
}
