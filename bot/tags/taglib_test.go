package tags

import (
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.senan.xyz/taglib"
)

//go:embed testdata/sample.ogg
var sampleOgg []byte

func copySample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.ogg")
	require.NoError(t, os.WriteFile(path, sampleOgg, 0o644))
	return path
}

func TestEmbedOggTagsWritesFile(t *testing.T) {
	path := copySample(t)
	cover, artwork := writeJPEG(t)

	s := NewService(nil, "via test")
	require.NoError(t, s.EmbedOggTags(path, FromTrack(sampleTrack()), cover))

	got, err := taglib.ReadTags(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Blinding Lights"}, got[taglib.Title])
	assert.Equal(t, []string{"The Weeknd"}, got[taglib.Artist])
	assert.Equal(t, []string{"After Hours"}, got[taglib.Album])
	assert.Equal(t, []string{"Spotify"}, got[taglib.Genre])
	assert.Equal(t, []string{"0VjIjW4GlUZAMYd2vXMi3b"}, got[taglib.TrackNumber])
	assert.Equal(t, []string{"via test"}, got[taglib.Comment])
	assert.Equal(t, []string{"200"}, got["DURATION"])

	props, err := taglib.ReadProperties(path)
	require.NoError(t, err)
	require.Len(t, props.Images, 1)
	assert.Equal(t, "image/jpeg", props.Images[0].MIMEType)
	assert.Equal(t, pictureDescText, props.Images[0].Description)

	img, err := taglib.ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, artwork, img)
}

func TestEmbedOggTagsClearsPreviousComments(t *testing.T) {
	path := copySample(t)
	require.NoError(t, taglib.WriteTags(path, map[string][]string{"STALE": {"yes"}}, 0))
	before, err := taglib.ReadTags(path)
	require.NoError(t, err)
	require.Equal(t, []string{"example album"}, before[taglib.Album])

	s := NewService(nil, "")
	require.NoError(t, s.EmbedOggTags(path, TagData{Title: "Fresh"}, ""))

	got, err := taglib.ReadTags(path)
	require.NoError(t, err)
	assert.NotContains(t, got, "STALE")
	assert.NotContains(t, got, taglib.Album)
	assert.Equal(t, []string{"Fresh"}, got[taglib.Title])

	img, err := taglib.ReadImage(path)
	require.NoError(t, err)
	assert.Empty(t, img)
}

func TestEmbedOggTagsRejectsNonOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ogg")
	require.NoError(t, os.WriteFile(path, []byte("not an ogg file"), 0o644))

	err := NewService(nil, "").EmbedOggTags(path, FromTrack(sampleTrack()), "")
	assert.ErrorIs(t, err, ErrTagEmbed)
}
