package novel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, ok := ParseAddress("https://example.com/novel/2547/96632.html")
	require.True(t, ok)
	require.Equal(t, Address{BookID: "2547", ChapterID: "96632", SubPage: 1}, addr)

	addr, ok = ParseAddress("/novel/2547/96632_3.html")
	require.True(t, ok)
	require.Equal(t, Address{BookID: "2547", ChapterID: "96632", SubPage: 3}, addr)

	_, ok = ParseAddress("/novel/2547/catalog")
	require.False(t, ok)

	_, ok = ParseAddress(UnresolvedMarker)
	require.False(t, ok)
}

func TestSameChapter(t *testing.T) {
	base, ok := ParseAddress("/novel/2547/96632.html")
	require.True(t, ok)
	sub, ok := ParseAddress("/novel/2547/96632_2.html")
	require.True(t, ok)
	next, ok := ParseAddress("/novel/2547/96633.html")
	require.True(t, ok)
	other, ok := ParseAddress("/novel/9999/96632.html")
	require.True(t, ok)

	require.True(t, base.SameChapter(sub))
	require.False(t, base.SameChapter(next))
	require.False(t, base.SameChapter(other))
}

func TestNextPointer(t *testing.T) {
	html := `<html><script>var nextpage="/novel/2547/96632_2.html";</script></html>`
	ptr, ok := NextPointer(html)
	require.True(t, ok)
	require.Equal(t, "/novel/2547/96632_2.html", ptr)

	// whitespace variants
	ptr, ok = NextPointer(`var  nextpage = "/novel/1/2.html"`)
	require.True(t, ok)
	require.Equal(t, "/novel/1/2.html", ptr)

	_, ok = NextPointer("<html><body>last chapter</body></html>")
	require.False(t, ok)

	_, ok = NextPointer(`var nextpage=""`)
	require.False(t, ok)
}

func TestSubPageAddress(t *testing.T) {
	addr, err := SubPageAddress("https://example.com/novel/2547/96632.html", 2)
	require.NoError(t, err)
	require.Equal(t, "/novel/2547/96632_2.html", addr)

	addr, err = SubPageAddress("/novel/2547/96632_2.html", 3)
	require.NoError(t, err)
	require.Equal(t, "/novel/2547/96632_3.html", addr)

	addr, err = SubPageAddress("/novel/2547/96632_4.html", 1)
	require.NoError(t, err)
	require.Equal(t, "/novel/2547/96632.html", addr)

	_, err = SubPageAddress(UnresolvedMarker, 2)
	require.Error(t, err)
}
