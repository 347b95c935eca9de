package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newTestStorage(t *testing.T) *FilesystemStorage {
	t.Helper()
	s, err := NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return s
}

func TestStoreAndOpenRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ref, err := s.Store(ctx, "report.txt", strings.NewReader("quarterly findings"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if ref == "" {
		t.Fatal("Store returned an empty ref")
	}

	r, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "quarterly findings" {
		t.Errorf("Payload corrupted: %q", data)
	}
}

func TestRefsAreDistinctForSameName(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ref1, _ := s.Store(ctx, "doc.txt", strings.NewReader("first"))
	ref2, _ := s.Store(ctx, "doc.txt", strings.NewReader("second"))
	if ref1 == ref2 {
		t.Fatal("Same filename must not collide")
	}

	r, err := s.Open(ctx, ref1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "first" {
		t.Errorf("First payload overwritten: %q", data)
	}
}

func TestOpenMissingRef(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.Open(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ref, _ := s.Store(ctx, "doc.txt", strings.NewReader("bytes"))
	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("Deleting a missing ref should not error: %v", err)
	}
	if _, err := s.Open(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Error("Payload should be gone after delete")
	}
}

func TestRefCannotEscapeBaseDir(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ref, err := s.Store(ctx, "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if strings.Contains(ref, "..") || strings.Contains(ref, "/") {
		t.Errorf("Ref leaks path components: %q", ref)
	}
}
