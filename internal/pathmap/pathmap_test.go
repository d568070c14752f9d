package pathmap_test

import (
	"testing"

	"golang.org/x/text/unicode/norm"

	"tonearm/internal/pathmap"
)

func TestOutputRelPathReplacesExtension(t *testing.T) {
	target := pathmap.Target{Name: "mp3", Codec: "mp3", Bitrate: "256k"}

	cases := map[string]string{
		"a.flac":              "a.mp3",
		"Album/01 - Song.wav": "Album/01 - Song.mp3",
		"deep/nested/x.ogg":   "deep/nested/x.mp3",
	}
	for src, want := range cases {
		if got := target.OutputRelPath(src); got != want {
			t.Errorf("OutputRelPath(%q) = %q, want %q", src, got, want)
		}
	}
}

func TestOutputRelPathNormalizesNFD(t *testing.T) {
	target := pathmap.Target{Name: "alac", Codec: "alac"}

	nfd := norm.NFD.String("Béla/Szvit.flac")
	want := norm.NFC.String("Béla/Szvit.m4a")
	if got := target.OutputRelPath(nfd); got != want {
		t.Fatalf("expected NFC output path, got %q want %q", got, want)
	}
}

func TestMappingIsDistinctPerStem(t *testing.T) {
	target := pathmap.Target{Name: "opus", Codec: "opus"}

	seen := map[string]string{}
	for _, src := range []string{"a.flac", "b.flac", "dir/a.flac", "dir/b.wav"} {
		out := target.OutputRelPath(src)
		if prev, ok := seen[out]; ok {
			t.Fatalf("collision: %q and %q both map to %q", prev, src, out)
		}
		seen[out] = src
	}
}

func TestSourceStemInvertsMapping(t *testing.T) {
	target := pathmap.Target{Name: "mp3", Codec: "mp3"}

	stem, ok := target.SourceStem("Album/01 - Song.mp3")
	if !ok {
		t.Fatal("expected output to belong to target")
	}
	if stem != "Album/01 - Song" {
		t.Fatalf("unexpected stem: %q", stem)
	}
	if stem != pathmap.StemPath("Album/01 - Song.flac") {
		t.Fatal("inverted stem must match the source stem path")
	}

	if _, ok := target.SourceStem("Album/cover.jpg"); ok {
		t.Fatal("non-audio output should not belong to target")
	}
}

func TestLosslessTargetOwnsPassthroughMP3(t *testing.T) {
	alac := pathmap.Target{Name: "alac", Codec: "alac"}

	if !alac.UsesPassthrough("x.mp3") {
		t.Fatal("mp3 into lossless target should be passthrough")
	}
	if alac.UsesPassthrough("x.flac") {
		t.Fatal("flac is transcoded, not passthrough")
	}
	if !alac.OwnsOutput("x.mp3") {
		t.Fatal("lossless tree may contain passthrough mp3 copies")
	}

	mp3 := pathmap.Target{Name: "mp3", Codec: "mp3"}
	if mp3.UsesPassthrough("x.mp3") {
		t.Fatal("mp3 into mp3 target is a normal transcode mapping")
	}
}

func TestCodecTables(t *testing.T) {
	if ext, ok := pathmap.Extension("ALAC"); !ok || ext != ".m4a" {
		t.Fatalf("alac extension: %q %v", ext, ok)
	}
	if _, ok := pathmap.Extension("vorbis"); ok {
		t.Fatal("unknown codec should not resolve")
	}
	if pathmap.SupportsArtwork("opus") {
		t.Fatal("opus containers do not carry artwork here")
	}
	if !pathmap.SupportsArtwork("mp3") {
		t.Fatal("mp3 supports artwork")
	}
	if pathmap.DefaultBitrate("flac") != "" {
		t.Fatal("lossless codecs have no bitrate")
	}
	if pathmap.DefaultBitrate("opus") != "128k" {
		t.Fatal("unexpected opus default bitrate")
	}
}

func TestPathPredicates(t *testing.T) {
	if !pathmap.IsAudioPath("x.FLAC") {
		t.Fatal("extension check must be case-insensitive")
	}
	if pathmap.IsAudioPath("x.txt") {
		t.Fatal("txt is not audio")
	}
	if !pathmap.IsLosslessPath("x.ape") {
		t.Fatal("ape is lossless")
	}
	if !pathmap.IsSidecarPath("x.lrc") {
		t.Fatal("lrc is a sidecar")
	}
	if pathmap.IsSidecarPath("x.cue") {
		t.Fatal("cue is not a recognized sidecar")
	}
}
