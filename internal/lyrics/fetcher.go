package lyrics

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"tonearm/internal/logging"
	"tonearm/internal/pathmap"
	"tonearm/internal/services"
	"tonearm/internal/snapshot"
)

// Fetcher fills in missing sidecar files for source audio. Lookup failures
// are expected (obscure tracks, unparseable names) and never fail a pass.
type Fetcher struct {
	client     *Client
	sourceRoot string
	logger     *slog.Logger
}

func NewFetcher(client *Client, sourceRoot string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{client: client, sourceRoot: sourceRoot, logger: logger}
}

// FillMissing fetches lyrics for every audio file in the snapshot that has
// no sidecar yet and writes them next to the source. Returns the number of
// sidecars written.
func (f *Fetcher) FillMissing(ctx context.Context, source *snapshot.Snapshot) (int, error) {
	written := 0
	for _, rel := range source.Paths() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if !pathmap.IsAudioPath(rel) {
			continue
		}

		sidecarRel := pathmap.StemPath(rel) + ".lrc"
		sidecarPath := filepath.Join(f.sourceRoot, filepath.FromSlash(sidecarRel))
		if _, err := os.Stat(sidecarPath); err == nil {
			continue
		}

		artist, title, ok := ParseTrack(rel)
		if !ok {
			f.logger.Debug("filename not parseable for lyrics lookup",
				logging.String(logging.FieldSource, rel))
			continue
		}

		lyrics, err := f.client.Fetch(ctx, artist, title)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return written, err
			}
			level := slog.LevelDebug
			if !errors.Is(err, services.ErrNotFound) {
				level = slog.LevelWarn
			}
			f.logger.Log(ctx, level, "lyrics lookup failed",
				logging.String(logging.FieldSource, rel),
				logging.Error(err))
			continue
		}

		if err := os.WriteFile(sidecarPath, []byte(lyrics), 0o644); err != nil {
			return written, services.Wrap(services.ErrTransient, "lyrics", "fill", "write sidecar", err)
		}
		written++
		f.logger.Info("fetched lyrics",
			logging.String(logging.FieldSource, rel),
			logging.String("artist", artist),
			logging.String("title", title))
	}
	return written, nil
}
