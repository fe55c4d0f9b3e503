package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

var hashFilesTokenRe = regexp.MustCompile(`\$\{\{\s*hashFiles\('([^']*)'\)\s*\}\}`)

// resolveCacheKey replaces every hashFiles('glob') token left deferred by
// the compiler (§4.1 step 7) with the hex digest of the matched files'
// contents, computed relative to workDir at step start (§4.4 step 3).
func resolveCacheKey(template, workDir string) string {
	return hashFilesTokenRe.ReplaceAllStringFunc(template, func(tok string) string {
		m := hashFilesTokenRe.FindStringSubmatch(tok)
		if len(m) != 2 {
			return tok
		}
		sum, err := hashFiles(workDir, m[1])
		if err != nil {
			return "unresolved"
		}
		return sum
	})
}

// hashFiles hashes the sorted, concatenated contents of every file under
// workDir matching glob, so the digest is stable across runs regardless of
// filesystem iteration order.
func hashFiles(workDir, glob string) (string, error) {
	matches, err := doublestar.Glob(os.DirFS(workDir), glob)
	if err != nil {
		return "", err
	}
	sort.Strings(matches)

	h := sha256.New()
	for _, m := range matches {
		f, err := os.Open(workDir + string(os.PathSeparator) + m)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
