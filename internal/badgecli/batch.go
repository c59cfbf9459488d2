package badgecli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/phillip-england/badgephoto/internal/bundle"
	"github.com/phillip-england/badgephoto/internal/logging"
	"github.com/phillip-england/badgephoto/internal/matte"
	"github.com/phillip-england/badgephoto/internal/roster"
	"github.com/sirupsen/logrus"
)

var ErrAllFailed = errors.New("no roster entry could be processed")

type batchOptions struct {
	RosterPath string
	PhotosDir  string
	OutPath    string
}

type batchSummary struct {
	Total     int
	Processed int
	Failed    int
}

func runBatch(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	rosterPath := fs.String("roster", "", "employee roster (.xlsx or .xls)")
	photosDir := fs.String("photos", ".", "directory holding the roster's photo files")
	outPath := fs.String("out", "badges.tar.xz", "archive to write")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *rosterPath == "" || fs.NArg() != 0 {
		return fmt.Errorf("%w: batch --roster roster.xlsx --photos dir [--out badges.tar.xz]", ErrUsage)
	}

	summary, err := batchExport(batchOptions{
		RosterPath: *rosterPath,
		PhotosDir:  *photosDir,
		OutPath:    *outPath,
	}, logging.FromEnv())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s: %d processed, %d failed\n", *outPath, summary.Processed, summary.Failed)
	return nil
}

// batchExport runs every roster entry's photo through the pipeline and
// stores the results in a tar.xz archive. Individual failures are logged and
// counted; the export only fails when no entry succeeds.
func batchExport(opts batchOptions, log logrus.FieldLogger) (batchSummary, error) {
	entries, err := loadRoster(opts.RosterPath)
	if err != nil {
		return batchSummary{}, err
	}
	summary := batchSummary{Total: len(entries)}
	if len(entries) == 0 {
		return summary, fmt.Errorf("%s: roster has no entries", opts.RosterPath)
	}

	if err := ensureParentDirs(opts.OutPath); err != nil {
		return summary, err
	}
	tmpPath := opts.OutPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return summary, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmpPath)
	}()

	archive, err := bundle.NewWriter(out)
	if err != nil {
		return summary, err
	}

	now := time.Now()
	for _, entry := range entries {
		entryLog := log.WithFields(logrus.Fields{"row": entry.Row, "name": entry.Name, "photo": entry.Photo})
		result, err := processRosterPhoto(opts.PhotosDir, entry)
		if err != nil {
			summary.Failed++
			entryLog.WithError(err).Warn("badge photo skipped")
			continue
		}
		stored, err := archive.Add(entry.Name, result.PNG, now)
		if err != nil {
			return summary, err
		}
		summary.Processed++
		entryLog.WithFields(logrus.Fields{
			"entry":        stored,
			"keyed_pixels": result.KeyedPixels,
			"background":   result.Background.Hex,
		}).Info("badge photo exported")
		if !result.Background.LikelyKeyed {
			entryLog.Warn("background does not look white")
		}
	}

	if err := archive.Close(); err != nil {
		return summary, err
	}
	if summary.Processed == 0 {
		return summary, fmt.Errorf("%w: %d of %d failed", ErrAllFailed, summary.Failed, summary.Total)
	}
	if err := out.Close(); err != nil {
		return summary, fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, opts.OutPath); err != nil {
		return summary, fmt.Errorf("install %s: %w", opts.OutPath, err)
	}
	return summary, nil
}

func loadRoster(path string) ([]roster.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := roster.ReadRows(f, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	entries, err := roster.Parse(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

func processRosterPhoto(dir string, entry roster.Entry) (matte.Result, error) {
	name := filepath.FromSlash(entry.Photo)
	if !filepath.IsLocal(name) {
		return matte.Result{}, fmt.Errorf("photo path %q escapes the photos directory", entry.Photo)
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return matte.Result{}, err
	}
	defer f.Close()
	return matte.ProcessReader(f)
}
