// Package report serializes scan results to the console and to an optional
// CSV export. A single writer guards all sinks with one mutex so concurrent
// workers never interleave rows.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"gainscan/model"
)

// columns is the shared header for tab and CSV output. Album rows reuse the
// track columns with the directory in the file position.
var columns = []string{
	"File",
	"Loudness",
	"Range",
	"Gain",
	"Reference",
	"Peak",
	"Peak_dBTP",
	"New_Peak",
	"New_Peak_dBTP",
	"Will_clip",
	"Clip_prevent",
}

// Options selects the enabled sinks.
type Options struct {
	TabOutput bool   // tab-delimited rows on stdout
	CSVPath   string // CSV export file, empty disables
	Verbosity int    // >= 2 enables human-readable summaries
	UnitLU    bool   // label gains LU instead of dB
}

// Writer is the single serialization point for scan output.
type Writer struct {
	mu   sync.Mutex
	opts Options

	out     io.Writer
	csvFile *os.File
	csv     *csv.Writer
}

// New opens the requested sinks and emits headers. The returned writer must
// be closed to flush the CSV export.
func New(opts Options) (*Writer, error) {
	w := &Writer{opts: opts, out: os.Stdout}

	if opts.TabOutput {
		fmt.Fprintln(w.out, tabJoin(columns))
	}
	if opts.CSVPath != "" {
		f, err := os.Create(opts.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("report: create %s: %w", opts.CSVPath, err)
		}
		w.csvFile = f
		w.csv = csv.NewWriter(f)
		if err := w.csv.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("report: write header: %w", err)
		}
	}
	return w, nil
}

// Close flushes and closes the CSV sink.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.csv == nil {
		return nil
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.csvFile.Close()
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return w.csvFile.Close()
}

// Track emits one row for a scanned track plus a verbose summary when enabled.
func (w *Writer) Track(t *model.Track) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := w.trackRow(t)
	if err := w.emit(row); err != nil {
		return err
	}
	if w.opts.Verbosity >= 2 {
		w.trackSummary(t)
	}
	return nil
}

// Album emits one row for an aggregated album plus a verbose summary.
func (w *Writer) Album(a *model.Album) error {
	if a.Count() == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	row := w.albumRow(a)
	if err := w.emit(row); err != nil {
		return err
	}
	if w.opts.Verbosity >= 2 {
		w.albumSummary(a)
	}
	return nil
}

func (w *Writer) emit(row []string) error {
	if w.opts.TabOutput {
		fmt.Fprintln(w.out, tabJoin(row))
	}
	if w.csv != nil {
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}
	return nil
}

func (w *Writer) trackRow(t *model.Track) []string {
	return []string{
		t.FilePath,
		lufs(t.TrackLoudness),
		w.gain(t.TrackLoudnessRange),
		w.gain(t.TrackGain),
		lufs(t.LoudnessReference),
		peak(t.TrackPeak),
		dbtp(t.TrackPeak),
		peak(t.NewTrackPeak),
		dbtp(t.NewTrackPeak),
		yesNo(t.TrackClips),
		yesNo(t.TrackClipPrevention),
	}
}

func (w *Writer) albumRow(a *model.Album) []string {
	// All members carry identical album values after aggregation.
	t := a.Tracks[0]
	return []string{
		a.Directory,
		lufs(t.AlbumLoudness),
		w.gain(t.AlbumLoudnessRange),
		w.gain(t.AlbumGain),
		lufs(t.LoudnessReference),
		peak(t.AlbumPeak),
		dbtp(t.AlbumPeak),
		peak(t.NewAlbumPeak),
		dbtp(t.NewAlbumPeak),
		yesNo(t.AlbumClips),
		yesNo(t.AlbumClipPrevention),
	}
}

func (w *Writer) trackSummary(t *model.Track) {
	fmt.Fprintf(w.out, "\nTrack: %s\n", t.FilePath)
	fmt.Fprintf(w.out, " Loudness: %s LUFS\n", lufs(t.TrackLoudness))
	fmt.Fprintf(w.out, " Range:    %s %s\n", w.gain(t.TrackLoudnessRange), w.unit())
	fmt.Fprintf(w.out, " Peak:     %s (%s dBTP)\n", peak(t.TrackPeak), dbtp(t.TrackPeak))
	fmt.Fprintf(w.out, " Gain:     %s %s%s\n", w.gain(t.TrackGain), w.unit(), clipNote(t.TrackClips, t.TrackClipPrevention))
}

func (w *Writer) albumSummary(a *model.Album) {
	t := a.Tracks[0]
	fmt.Fprintf(w.out, "\nAlbum: %s\n", a.Directory)
	fmt.Fprintf(w.out, " Loudness: %s LUFS\n", lufs(t.AlbumLoudness))
	fmt.Fprintf(w.out, " Range:    %s %s\n", w.gain(t.AlbumLoudnessRange), w.unit())
	fmt.Fprintf(w.out, " Peak:     %s (%s dBTP)\n", peak(t.AlbumPeak), dbtp(t.AlbumPeak))
	fmt.Fprintf(w.out, " Gain:     %s %s%s\n", w.gain(t.AlbumGain), w.unit(), clipNote(t.AlbumClips, t.AlbumClipPrevention))
}

func (w *Writer) unit() string {
	if w.opts.UnitLU {
		return "LU"
	}
	return "dB"
}

func (w *Writer) gain(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func lufs(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func peak(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// dbtp converts a linear peak to dBTP for display.
func dbtp(v float64) string {
	if v <= 0 {
		return "-inf"
	}
	return strconv.FormatFloat(20.0*math.Log10(v), 'f', 2, 64)
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func clipNote(clips, prevented bool) string {
	switch {
	case prevented:
		return " (corrected to prevent clipping)"
	case clips:
		return " (will clip)"
	default:
		return ""
	}
}

func tabJoin(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += "\t" + f
	}
	return out
}
