package gitops

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/infraweave-io/infraweave/internal/queue"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsMatchingHMAC(t *testing.T) {
	ing := New("s3cr3t", nil, nil)
	body := []byte(`{"ref":"refs/heads/main"}`)
	if err := ing.VerifySignature(body, sign([]byte("s3cr3t"), body)); err != nil {
		t.Fatalf("expected valid signature to pass, got %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	ing := New("s3cr3t", nil, nil)
	sig := sign([]byte("s3cr3t"), []byte(`{"ref":"refs/heads/main"}`))
	if err := ing.VerifySignature([]byte(`{"ref":"refs/heads/evil"}`), sig); err == nil {
		t.Fatal("expected tampered body to fail signature verification")
	}
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	ing := New("s3cr3t", nil, nil)
	if err := ing.VerifySignature([]byte("body"), "not-a-signature"); err == nil {
		t.Fatal("expected malformed header to be rejected")
	}
}

func TestParseManifestDocsSplitsMultiDocumentYAML(t *testing.T) {
	raw := []byte(`
apiVersion: infraweave.io/v1
kind: Module
metadata:
  name: bucket
  namespace: prod
spec:
  moduleName: s3-bucket
  track: stable
  version: 1.2.0
---
apiVersion: infraweave.io/v1
kind: Stack
metadata:
  name: network
  namespace: prod
spec:
  stackName: vpc
  track: stable
`)
	docs, err := parseManifestDocs(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 parsed manifest docs, got %d", len(docs))
	}
	if docs[0].Metadata.Name != "bucket" || docs[0].Spec.ModuleName != "s3-bucket" {
		t.Fatalf("unexpected first manifest: %+v", docs[0])
	}
	if docs[1].Metadata.Name != "network" || docs[1].Spec.StackName != "vpc" {
		t.Fatalf("unexpected second manifest: %+v", docs[1])
	}
}

func TestParseManifestDocsSkipsBlankDocuments(t *testing.T) {
	raw := []byte("---\n---\napiVersion: infraweave.io/v1\nkind: Module\nmetadata:\n  name: x\n")
	docs, err := parseManifestDocs(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 non-blank manifest doc, got %d", len(docs))
	}
}

type fakeFetcher struct {
	files map[string][]byte
}

func (f *fakeFetcher) FetchFile(ctx context.Context, repo, path, ref string) ([]byte, error) {
	return f.files[path], nil
}

func TestProcessSkipsNonManifestFiles(t *testing.T) {
	fetcher := &fakeFetcher{}
	ing := New("s", fetcher, queue.NewClient(nil))
	event := PushEvent{After: "abc123"}
	event.Repository.FullName = "acme/infra"
	event.Pusher.Name = "alice"
	event.Commits = []struct {
		Added    []string `json:"added"`
		Removed  []string `json:"removed"`
		Modified []string `json:"modified"`
	}{{Added: []string{"README.md"}}}

	processed, err := ing.Process(context.Background(), event, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 manifests processed, got %d", processed)
	}
}

func TestIsManifestPathFiltersNonYAML(t *testing.T) {
	if isManifestPath("README.md") {
		t.Fatal("README.md should not be treated as a manifest")
	}
	if !isManifestPath("infra/db.yaml") || !isManifestPath("infra/db.yml") {
		t.Fatal("yaml/yml files should be treated as manifests")
	}
}

func TestProjectFromRepoStripsOwner(t *testing.T) {
	if got := projectFromRepo("acme/infra"); got != "infra" {
		t.Fatalf("expected 'infra', got %q", got)
	}
}
