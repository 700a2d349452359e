// Package pathhash computes stable 64-bit hashes of canonicalized filesystem
// paths and, separately, of file content. Both hashes use xxh3: fast,
// non-cryptographic, and good enough to key on without storing full path
// strings everywhere the store needs locality.
package pathhash

import (
	"runtime"
	"strings"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize normalizes a path for hashing and comparison purposes.
// Every path is first put into Unicode Normalization Form C, so a name
// typed with a precomposed accent and the same name decomposed by an
// HFS+/APFS volume or a macOS-originated fsnotify event hash identically,
// so every logical path maps to exactly one hash. On Windows, the NFC
// form is then uppercased and separators normalized to backslash,
// except for UNC (\\server\share) and device (\\?\) prefixes, which are
// preserved verbatim since they are case- and form-sensitive. On other
// platforms the NFC form is returned as-is: POSIX paths are otherwise
// already byte-stable and case-sensitive.
func Canonicalize(path string) string {
	nfc := norm.NFC.String(path)

	if runtime.GOOS != "windows" {
		return nfc
	}

	return canonicalizeWindows(nfc)
}

const (
	uncPrefix    = `\\`
	devicePrefix = `\\?\`
)

func canonicalizeWindows(path string) string {
	if strings.HasPrefix(path, devicePrefix) {
		rest := path[len(devicePrefix):]
		return devicePrefix + strings.ToUpper(strings.ReplaceAll(rest, "/", `\`))
	}

	if strings.HasPrefix(path, uncPrefix) {
		rest := path[len(uncPrefix):]
		return uncPrefix + strings.ToUpper(strings.ReplaceAll(rest, "/", `\`))
	}

	return strings.ToUpper(strings.ReplaceAll(path, "/", `\`))
}

// Hash returns the stable 64-bit hash of a canonicalized path. Two paths
// that canonicalize to the same string hash identically regardless of the
// separator or case conventions the caller used to spell them.
func Hash(path string) uint64 {
	return xxh3.HashString(Canonicalize(path))
}

// ContentHash returns a fast 64-bit hash over file content. It is a
// correlation signal, not a content-addressing digest — collisions are
// acceptable at the rate xxh3 delivers for this purpose, they simply
// cost the Correlator a missed upgrade to ContentHash confidence.
func ContentHash(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Prefixes returns every non-empty ancestor prefix of path, topmost first
// and ending with the immediate parent, each canonicalized the same way
// Hash canonicalizes full paths; the filesystem root itself is not
// included. Used to populate one path_prefixes row per prefix; the list is
// not cut off at the watch root, so ancestors above it are included too.
func Prefixes(path string) []string {
	canon := Canonicalize(path)

	sep := "/"
	if runtime.GOOS == "windows" {
		sep = `\`
	}

	leading := strings.HasPrefix(canon, sep)
	trimmed := strings.Trim(canon, sep)
	parts := strings.Split(trimmed, sep)

	if len(parts) <= 1 {
		return nil
	}

	prefixes := make([]string, 0, len(parts)-1)
	acc := ""

	for i := 0; i < len(parts)-1; i++ {
		acc += sep + parts[i]
		prefixes = append(prefixes, acc)
	}

	if !leading && len(prefixes) > 0 {
		for i, p := range prefixes {
			prefixes[i] = strings.TrimPrefix(p, sep)
		}
	}

	return prefixes
}
