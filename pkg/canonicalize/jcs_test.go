package canonicalize

import "testing"

func TestJCSOrdersKeys(t *testing.T) {
	a, err := JCS(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("jcs: %v", err)
	}
	b, err := JCS(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("jcs: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected key-order-independent output, got %q vs %q", a, b)
	}
	if string(a) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %q", a)
	}
}

func TestHashIsStable(t *testing.T) {
	h1, err := Hash(map[string]any{"name": "S3Bucket", "version": "0.1.0"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(map[string]any{"version": "0.1.0", "name": "S3Bucket"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable hash regardless of field order, got %s vs %s", h1, h2)
	}
}

func TestArtifactDigestChangesWithZipContent(t *testing.T) {
	manifest := map[string]any{"name": "S3Bucket"}
	d1, err := ArtifactDigest(manifest, []byte("zip-a"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, err := ArtifactDigest(manifest, []byte("zip-b"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d1 == d2 {
		t.Fatal("expected digest to change when artifact bytes change")
	}
}
