package policyopa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

const digestPrefix = "sha256:"

// DigestBundleDir digests the policy bundle rooted at dir.
func DigestBundleDir(dir string) (string, error) {
	return DigestBundleFS(os.DirFS(dir))
}

// DigestBundleFS digests the files that can change a decision: every .rego
// module plus data.json. Each contributes a "<path> <sha256>\n" line, in the
// lexical order fs.WalkDir visits them, so editor backups, hidden files and
// vendored trees never move the digest.
func DigestBundleFS(fsys fs.FS) (string, error) {
	outer := sha256.New()
	files := 0
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		if ignored(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !decisive(d.Name()) {
			return nil
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(outer, "%s %s\n", name, hexDigest(body))
		files++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("digest policy bundle: %w", err)
	}
	if files == 0 {
		return "", fmt.Errorf("digest policy bundle: no .rego modules or data.json found")
	}
	return digestPrefix + hex.EncodeToString(outer.Sum(nil)), nil
}

func ignored(base string) bool {
	return strings.HasPrefix(base, ".") || base == "vendor" || base == "__MACOSX" ||
		strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

func decisive(base string) bool {
	return path.Ext(base) == ".rego" || base == "data.json"
}

func hexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
