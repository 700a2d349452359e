package pathhash

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStable(t *testing.T) {
	h1 := Hash("/watch/a/b.txt")
	h2 := Hash("/watch/a/b.txt")
	require.Equal(t, h1, h2)

	h3 := Hash("/watch/a/c.txt")
	require.NotEqual(t, h1, h3)
}

func TestCanonicalizeWindowsCaseInsensitive(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("windows-specific canonicalization")
	}

	assert.Equal(t, Canonicalize(`C:\Foo\Bar`), Canonicalize(`c:\foo\bar`))
	assert.Equal(t, Canonicalize(`C:/Foo/Bar`), Canonicalize(`C:\Foo\Bar`))
}

func TestPrefixesUnixAbsolute(t *testing.T) {
	prefixes := Prefixes("/w/a/b/c.txt")
	require.Equal(t, []string{"/w", "/w/a", "/w/a/b"}, prefixes)
}

func TestPrefixesTopLevel(t *testing.T) {
	require.Nil(t, Prefixes("/w"))
}

func TestContentHashDiffers(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("world"))
	require.NotEqual(t, a, b)
}
