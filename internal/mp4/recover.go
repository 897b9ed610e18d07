package mp4

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/repository"
)

// Recover walks mp4Root after an unclean shutdown and reconciles every
// .mp4 file against the RecordingRow index: a file the index already
// knows about is left alone, an unindexed file whose trailing box is a
// complete moov is re-indexed (the writer finished the file but the
// process died before the index transaction or vice versa), and
// anything else — a file still mid-mdat when the process died — is
// renamed to ".broken" so it never masquerades as a playable recording.
func Recover(ctx context.Context, mp4Root string, repo repository.RecordingRepository, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	indexed, err := repo.AllFilePaths(ctx)
	if err != nil {
		return fmt.Errorf("mp4: recover: loading indexed paths: %w", err)
	}

	return filepath.WalkDir(mp4Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".mp4") {
			return nil
		}
		if _, ok := indexed[path]; ok {
			return nil
		}

		complete, verr := hasTrailingMoov(path)
		if verr != nil {
			logger.Warn("mp4: recover: inspecting file failed", "path", path, "error", verr)
			return nil
		}

		if !complete {
			broken := path + ".broken"
			if err := os.Rename(path, broken); err != nil {
				logger.Error("mp4: recover: renaming broken file failed", "path", path, "error", err)
			} else {
				logger.Warn("mp4: recover: marked incomplete recording broken", "path", path, "broken_path", broken)
			}
			return nil
		}

		row, err := reindexRow(path)
		if err != nil {
			logger.Warn("mp4: recover: could not build index row", "path", path, "error", err)
			return nil
		}
		if err := repo.Create(ctx, row); err != nil {
			logger.Error("mp4: recover: indexing recovered file failed", "path", path, "error", err)
		} else {
			logger.Info("mp4: recover: re-indexed recording", "path", path, "stream", row.Stream)
		}
		return nil
	})
}

// hasTrailingMoov sequentially walks top-level boxes from the start of
// the file and reports whether the last complete box is a moov, which
// is exactly what progressiveMuxer.FinalizeContent appends once mdat's
// size has been patched. A file that ends mid-box (crash during
// ingest) fails this check.
func hasTrailingMoov(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var header [8]byte
	var lastType string
	var offset int64

	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return false, err
		}
		size := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		if size < 8 {
			break
		}

		next := offset + size
		if _, err := f.Seek(next, io.SeekStart); err != nil {
			return false, err
		}

		info, err := f.Stat()
		if err != nil {
			return false, err
		}
		if next > info.Size() {
			// Truncated box: the file ends before this box's declared size.
			return false, nil
		}

		lastType = boxType
		offset = next
		if offset >= info.Size() {
			break
		}
	}

	return lastType == "moov", nil
}

// reindexRow reconstructs a RecordingRow from a recovered file's dated
// path (<root>/<stream>/<YYYY>/<MM>/<DD>/<HHMMSS>.mp4) and stat info,
// since the original in-memory segment state died with the process.
func reindexRow(path string) (*models.RecordingRow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	dir, file := filepath.Split(path)
	day := filepath.Base(filepath.Dir(dir))
	month := filepath.Base(filepath.Dir(filepath.Dir(dir)))
	year := filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(dir))))
	stream := filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(dir)))))

	hhmmss := strings.TrimSuffix(file, ".mp4")
	if len(hhmmss) != 6 {
		return nil, fmt.Errorf("unexpected segment filename %q", file)
	}

	y, err := strconv.Atoi(year)
	if err != nil {
		return nil, fmt.Errorf("parsing year from path: %w", err)
	}
	mo, err := strconv.Atoi(month)
	if err != nil {
		return nil, fmt.Errorf("parsing month from path: %w", err)
	}
	da, err := strconv.Atoi(day)
	if err != nil {
		return nil, fmt.Errorf("parsing day from path: %w", err)
	}
	hh, err := strconv.Atoi(hhmmss[0:2])
	if err != nil {
		return nil, fmt.Errorf("parsing hour from path: %w", err)
	}
	mm, err := strconv.Atoi(hhmmss[2:4])
	if err != nil {
		return nil, fmt.Errorf("parsing minute from path: %w", err)
	}
	ss, err := strconv.Atoi(hhmmss[4:6])
	if err != nil {
		return nil, fmt.Errorf("parsing second from path: %w", err)
	}

	wallStart := time.Date(y, time.Month(mo), da, hh, mm, ss, 0, time.Local)

	return &models.RecordingRow{
		Stream:    stream,
		FilePath:  path,
		WallStart: wallStart,
		WallEnd:   info.ModTime(),
		SizeBytes: info.Size(),
		Trigger:   models.TriggerSchedule,
	}, nil
}
