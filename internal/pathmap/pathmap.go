// Package pathmap maps source audio paths to their expected output paths.
//
// The mapping is pure and deterministic: the relative directory structure is
// preserved and the extension is replaced per codec. Identity within a
// directory is the NFC-normalized stem, so a source file and its derived
// outputs always share a stem. The mapping is invertible enough that an
// output path can be traced back to the stem of its (possibly absent) source.
package pathmap

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// codecExtensions maps supported codecs to their container extension.
var codecExtensions = map[string]string{
	"alac": ".m4a",
	"aac":  ".m4a",
	"mp3":  ".mp3",
	"opus": ".opus",
	"flac": ".flac",
	"wav":  ".wav",
}

// artworkCodecs are codecs whose containers can carry embedded artwork.
var artworkCodecs = map[string]struct{}{
	"alac": {},
	"aac":  {},
	"mp3":  {},
	"flac": {},
}

// defaultBitrates for lossy codecs when the config leaves bitrate unset.
var defaultBitrates = map[string]string{
	"aac":  "256k",
	"mp3":  "256k",
	"opus": "128k",
}

var losslessCodecs = map[string]struct{}{
	"alac": {},
	"flac": {},
	"wav":  {},
}

// losslessExtensions are source extensions considered lossless originals.
var losslessExtensions = map[string]struct{}{
	".flac": {}, ".alac": {}, ".wav": {}, ".ape": {}, ".aiff": {},
	".wv": {}, ".tta": {}, ".ogg": {}, ".opus": {},
}

var lossyExtensions = map[string]struct{}{
	".mp3": {}, ".aac": {}, ".m4a": {},
}

// sidecarExtensions are companion files mirrored alongside audio (lyrics).
var sidecarExtensions = map[string]struct{}{
	".lrc": {},
}

// Codecs returns the supported codec names.
func Codecs() []string {
	names := make([]string, 0, len(codecExtensions))
	for name := range codecExtensions {
		names = append(names, name)
	}
	return names
}

// Extension returns the output file extension for a codec.
func Extension(codec string) (string, bool) {
	ext, ok := codecExtensions[strings.ToLower(codec)]
	return ext, ok
}

// SupportsArtwork reports whether a codec's container can embed artwork.
func SupportsArtwork(codec string) bool {
	_, ok := artworkCodecs[strings.ToLower(codec)]
	return ok
}

// DefaultBitrate returns the default bitrate for a lossy codec, or "" for
// lossless codecs.
func DefaultBitrate(codec string) string {
	return defaultBitrates[strings.ToLower(codec)]
}

// IsLosslessCodec reports whether the codec is lossless.
func IsLosslessCodec(codec string) bool {
	_, ok := losslessCodecs[strings.ToLower(codec)]
	return ok
}

// NFC normalizes a string to NFC unicode form. macOS volumes hand back NFD
// names, which would otherwise never match NFC names written by this process.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// NFCPath normalizes every component of a slash-separated relative path.
func NFCPath(p string) string {
	if p == "" {
		return p
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = NFC(part)
	}
	return strings.Join(parts, "/")
}

// Stem returns the NFC-normalized filename without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return NFC(strings.TrimSuffix(base, path.Ext(base)))
}

// StemPath returns the NFC-normalized relative path without its extension,
// the identity a source shares with all of its outputs.
func StemPath(rel string) string {
	rel = NFCPath(rel)
	dir := path.Dir(rel)
	stem := Stem(rel)
	if dir == "." {
		return stem
	}
	return path.Join(dir, stem)
}

// IsAudioPath reports whether the path has a recognized audio extension.
// It performs no I/O, so it is safe on paths that no longer exist.
func IsAudioPath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if _, ok := losslessExtensions[ext]; ok {
		return true
	}
	_, ok := lossyExtensions[ext]
	return ok
}

// IsLosslessPath reports whether the path has a lossless source extension.
func IsLosslessPath(p string) bool {
	_, ok := losslessExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// IsMP3 reports whether the path is an MP3 file.
func IsMP3(p string) bool {
	return strings.ToLower(path.Ext(p)) == ".mp3"
}

// IsSidecarPath reports whether the path has a sidecar extension.
func IsSidecarPath(p string) bool {
	_, ok := sidecarExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// SidecarExtensions returns the recognized sidecar extensions.
func SidecarExtensions() []string {
	exts := make([]string, 0, len(sidecarExtensions))
	for ext := range sidecarExtensions {
		exts = append(exts, ext)
	}
	return exts
}
