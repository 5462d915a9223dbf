package imageref

import (
	"testing"

	"echomint-registry/internal/domain"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		"ipfs://QmbWqxBEKC3P8tqsKc98xmWNzrzDtRLMiMPL8wBuTGsMnR",
	}
	for _, url := range valid {
		if err := Validate(url); err != nil {
			t.Errorf("Validate(%q) failed: %v", url, err)
		}
	}
}

func TestValidate_Rejected(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"wrong scheme", "https://example.com/art.png"},
		{"no scheme", "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"},
		{"placeholder", domain.PlaceholderImageURL},
		{"short cid", "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbd"},
		{"long cid", "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdGG"},
		{"v1 cid", "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"},
		{"bad base58 char", "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbd0"},
		{"empty", ""},
		{"scheme only", "ipfs://"},
	}
	for _, c := range cases {
		if err := Validate(c.url); err == nil {
			t.Errorf("%s: Validate(%q) should fail", c.name, c.url)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	if !IsPlaceholder(domain.PlaceholderImageURL) {
		t.Error("placeholder not recognized")
	}
	if IsPlaceholder("ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG") {
		t.Error("real reference misclassified as placeholder")
	}
}
