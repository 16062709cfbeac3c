// Package batch drives a whole scan run: it enumerates the library, schedules
// scan work on the pool, aggregates albums at idle barriers and funnels the
// results through the tag and report sinks.
package batch

import (
	"gainscan/core/pool"
	"gainscan/core/scan"
	"gainscan/core/tagio"
	"gainscan/logger"
	"gainscan/model"
)

// Scheduling policy. Folder-heavy libraries get one task per folder; smaller
// sets get per-file tasks with periodic aggregation barriers so memory for
// measurement states stays bounded.
const (
	// EagerFolderFactor switches to whole-folder tasks once the folder count
	// exceeds this multiple of the worker count.
	EagerFolderFactor = 5
	// WholeFolderTaskLimit is the largest folder scanned as a single task.
	WholeFolderTaskLimit = 1000
	// AggregateBatchTracks is the running track total that triggers an idle
	// barrier and aggregation of the accumulated folders.
	AggregateBatchTracks = 2000
)

// TrackScanner is the scan-and-aggregate surface the orchestrator drives.
// *scan.Scanner is the production implementation.
type TrackScanner interface {
	ScanTrack(t *model.Track) error
	AggregateAlbum(a *model.Album) error
}

// Tagger reads, writes and clears ReplayGain tags for arbitrary paths.
type Tagger interface {
	Present(path string, albumMode, extra bool) (bool, error)
	Write(path string, f tagio.Fields) error
	Clear(path string) error
}

// Reporter receives finished results. *report.Writer is the production
// implementation; its mutex is the only serialization between workers.
type Reporter interface {
	Track(t *model.Track) error
	Album(a *model.Album) error
}

// fileTagger dispatches to the container-family codec per path.
type fileTagger struct {
	opts tagio.Options
}

// NewTagger returns a Tagger backed by the per-family tag codecs.
func NewTagger(opts tagio.Options) Tagger {
	return &fileTagger{opts: opts}
}

func (ft *fileTagger) Present(path string, albumMode, extra bool) (bool, error) {
	c, err := tagio.ForPath(path, ft.opts)
	if err != nil {
		return false, err
	}
	return c.Present(path, albumMode, extra)
}

func (ft *fileTagger) Write(path string, f tagio.Fields) error {
	c, err := tagio.ForPath(path, ft.opts)
	if err != nil {
		return err
	}
	return c.Write(path, f)
}

func (ft *fileTagger) Clear(path string) error {
	c, err := tagio.ForPath(path, ft.opts)
	if err != nil {
		return err
	}
	return c.Clear(path)
}

// Options fixes the behavior of one batch run.
type Options struct {
	AlbumMode       bool
	WriteTags       bool // write track (and album) gain tags
	ExtraTags       bool // also write reference loudness and ranges
	DeleteTags      bool // clear tags instead of scanning
	SkipTagged      bool // exclude files that already carry tags
	PreventClipping bool
	MaxTruePeakDB   float64
	UnitLU          bool
}

// Runner executes one batch over a worker pool.
type Runner struct {
	pool    *pool.Pool
	scanner TrackScanner
	tags    Tagger
	report  Reporter
	opts    Options
}

// NewRunner wires the collaborators for a run. The pool is owned by the
// caller until Run, which consumes it (Run ends with WaitForFinished).
func NewRunner(p *pool.Pool, scanner TrackScanner, tags Tagger, rep Reporter, opts Options) *Runner {
	return &Runner{pool: p, scanner: scanner, tags: tags, report: rep, opts: opts}
}

// Run processes the file list to completion. Per-track failures are logged
// and isolated; only scheduling failures surface as errors.
func (r *Runner) Run(paths []string) error {
	if r.opts.DeleteTags {
		return r.runDelete(paths)
	}
	paths = r.filterTagged(paths)
	if len(paths) == 0 {
		logger.Info("nothing to scan")
		r.pool.WaitForFinished()
		return nil
	}
	if !r.opts.AlbumMode {
		return r.runTracks(paths)
	}
	return r.runAlbums(paths)
}

// runDelete clears tags file by file, no scanning involved.
func (r *Runner) runDelete(paths []string) error {
	for _, path := range paths {
		path := path
		h, err := r.pool.Submit(func() error {
			if err := r.tags.Clear(path); err != nil {
				logger.Warn("clearing tags failed",
					logger.String("file", path),
					logger.ErrorField(err))
				return err
			}
			logger.Info("tags cleared", logger.String("file", path))
			return nil
		})
		if err != nil {
			return err
		}
		logger.Debug("queued clear task",
			logger.String("task", h.ID()),
			logger.String("file", path))
	}
	r.pool.WaitForFinished()
	return nil
}

// runTracks is non-album mode: one independent task per file.
func (r *Runner) runTracks(paths []string) error {
	for _, path := range paths {
		t := model.NewTrack(path)
		h, err := r.pool.Submit(func() error {
			if err := r.scanOne(t); err != nil {
				return err
			}
			scan.ResolveTrack(t, r.opts.MaxTruePeakDB, r.opts.PreventClipping, false)
			r.finishTrack(t, false)
			return nil
		})
		if err != nil {
			return err
		}
		logger.Debug("queued track task",
			logger.String("task", h.ID()),
			logger.String("file", path))
	}
	r.pool.WaitForFinished()
	return nil
}

// runAlbums is album mode: scan, hit an idle barrier, then aggregate. The
// policy keeps measurement states for at most a bounded slice of the library
// alive at once.
func (r *Runner) runAlbums(paths []string) error {
	albums := GroupByFolder(paths)

	if len(albums) > EagerFolderFactor*r.pool.Size() {
		return r.runAlbumsEager(albums)
	}

	var pending []*model.Album
	total := 0
	for _, a := range albums {
		for _, t := range a.Tracks {
			t := t
			if _, err := r.pool.Submit(func() error { return r.scanOne(t) }); err != nil {
				return err
			}
		}
		pending = append(pending, a)
		total += a.Count()

		if total >= AggregateBatchTracks {
			r.pool.WaitForIdle()
			for _, p := range pending {
				r.finishAlbum(p)
			}
			pending = pending[:0]
			total = 0
		}
	}

	r.pool.WaitForFinished()
	for _, p := range pending {
		r.finishAlbum(p)
	}
	return nil
}

// runAlbumsEager handles folder-heavy libraries: each folder small enough
// becomes a single task that scans and aggregates in place, so no global
// barrier is ever needed for it.
func (r *Runner) runAlbumsEager(albums []*model.Album) error {
	var oversized []*model.Album
	for _, a := range albums {
		a := a
		if a.Count() > WholeFolderTaskLimit {
			oversized = append(oversized, a)
			continue
		}
		h, err := r.pool.Submit(func() error {
			for _, t := range a.Tracks {
				_ = r.scanOne(t)
			}
			r.finishAlbum(a)
			return nil
		})
		if err != nil {
			return err
		}
		logger.Debug("queued folder task",
			logger.String("task", h.ID()),
			logger.String("dir", a.Directory),
			logger.Int("tracks", a.Count()))
	}

	// Oversized folders fan out per file and aggregate at an idle barrier.
	for _, a := range oversized {
		for _, t := range a.Tracks {
			t := t
			if _, err := r.pool.Submit(func() error { return r.scanOne(t) }); err != nil {
				return err
			}
		}
		r.pool.WaitForIdle()
		r.finishAlbum(a)
	}

	r.pool.WaitForFinished()
	return nil
}

// scanOne runs a single scan. Failures are logged here; callers only decide
// whether the pipeline continues.
func (r *Runner) scanOne(t *model.Track) error {
	if err := r.scanner.ScanTrack(t); err != nil {
		logger.Warn("scan failed",
			logger.String("file", t.FilePath),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// finishAlbum aggregates one fully scanned folder and emits its results. On
// aggregation failure the whole album is abandoned: no member is resolved,
// tagged or reported, so existing tags on the files stay untouched.
func (r *Runner) finishAlbum(a *model.Album) {
	if err := r.scanner.AggregateAlbum(a); err != nil {
		logger.Warn("album aggregation failed, skipping all members",
			logger.String("dir", a.Directory),
			logger.ErrorField(err))
		for _, t := range a.Tracks {
			if t.Status == model.Failed {
				logger.Warn("failed album member", logger.String("file", t.FilePath))
			}
		}
		return
	}

	for _, t := range a.Tracks {
		scan.ResolveTrack(t, r.opts.MaxTruePeakDB, r.opts.PreventClipping, true)
		r.finishTrack(t, true)
	}
	if err := r.report.Album(a); err != nil {
		logger.Warn("reporting album failed",
			logger.String("dir", a.Directory),
			logger.ErrorField(err))
	}
}

// finishTrack writes tags (when enabled) and reports one resolved track.
func (r *Runner) finishTrack(t *model.Track, hasAlbum bool) {
	if r.opts.WriteTags {
		f := tagio.FieldsFromTrack(t, hasAlbum, r.opts.ExtraTags, r.opts.UnitLU)
		if err := r.tags.Write(t.FilePath, f); err != nil {
			logger.Warn("writing tags failed",
				logger.String("file", t.FilePath),
				logger.ErrorField(err))
		}
	}
	if err := r.report.Track(t); err != nil {
		logger.Warn("reporting track failed",
			logger.String("file", t.FilePath),
			logger.ErrorField(err))
	}
}

// filterTagged drops files that already carry the requested tag set.
func (r *Runner) filterTagged(paths []string) []string {
	if !r.opts.SkipTagged {
		return paths
	}
	kept := paths[:0]
	for _, p := range paths {
		present, err := r.tags.Present(p, r.opts.AlbumMode, r.opts.ExtraTags)
		if err != nil {
			logger.Warn("tag check failed, scanning anyway",
				logger.String("file", p),
				logger.ErrorField(err))
			kept = append(kept, p)
			continue
		}
		if present {
			logger.Info("already tagged, skipping", logger.String("file", p))
			continue
		}
		kept = append(kept, p)
	}
	return kept
}
