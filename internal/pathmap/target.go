package pathmap

import (
	"path"
	"strings"
)

// Target describes one configured output destination. Targets are fixed for
// the process lifetime; changing one requires reconfiguration.
type Target struct {
	Name           string
	Codec          string
	Bitrate        string
	IncludeArtwork bool
	Root           string
}

// Extension returns the output extension for this target's codec.
func (t Target) Extension() string {
	ext, _ := Extension(t.Codec)
	return ext
}

// IsLossless reports whether the target codec is lossless.
func (t Target) IsLossless() bool {
	return IsLosslessCodec(t.Codec)
}

// OutputRelPath returns the transcoded output path for a source-relative
// path: same relative directory, NFC stem, codec extension.
func (t Target) OutputRelPath(srcRel string) string {
	return StemPath(srcRel) + t.Extension()
}

// PassthroughRelPath returns the output path used when an MP3 source is
// copied unchanged into a lossless target tree.
func (t Target) PassthroughRelPath(srcRel string) string {
	return NFCPath(srcRel)
}

// UsesPassthrough reports whether srcRel would be copied instead of
// transcoded for this target. MP3 sources keep their original encoding when
// the target is lossless, since transcoding lossy to lossless only wastes
// space.
func (t Target) UsesPassthrough(srcRel string) bool {
	return IsMP3(srcRel) && t.IsLossless()
}

// validExtensions lists the extensions this target's tree may legitimately
// contain. Lossless targets also hold passthrough .mp3 copies.
func (t Target) validExtensions() []string {
	exts := []string{t.Extension()}
	if t.IsLossless() && t.Extension() != ".mp3" {
		exts = append(exts, ".mp3")
	}
	return exts
}

// OwnsOutput reports whether an output-relative path belongs to this target's
// mapping (by extension).
func (t Target) OwnsOutput(outRel string) bool {
	ext := strings.ToLower(path.Ext(outRel))
	for _, valid := range t.validExtensions() {
		if ext == valid {
			return true
		}
	}
	return false
}

// SourceStem inverts the mapping: given an output-relative path, it returns
// the stem path the corresponding source must have, and whether the output
// path belongs to this target at all. Used for orphan cleanup decisions.
func (t Target) SourceStem(outRel string) (string, bool) {
	if !t.OwnsOutput(outRel) {
		return "", false
	}
	return StemPath(outRel), true
}
