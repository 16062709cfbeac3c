package batch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gainscan/logger"
	"gainscan/model"
)

// Collect resolves positional arguments into a sorted list of audio files.
// Arguments may name files directly or directories, which are listed (or
// walked when recursive) and filtered by the extension set. Unreadable
// arguments are logged and skipped so one bad path never aborts a batch.
func Collect(args []string, recursive bool, extensions []string) []string {
	want := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[e] = true
	}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			logger.Warn("skipping unreadable path",
				logger.String("path", arg),
				logger.ErrorField(err))
			continue
		}
		if !info.IsDir() {
			if !want[strings.ToLower(filepath.Ext(arg))] {
				logger.Warn("skipping unsupported file",
					logger.String("path", arg))
				continue
			}
			paths = append(paths, arg)
			continue
		}
		paths = append(paths, collectDir(arg, recursive, want)...)
	}

	sort.Strings(paths)
	return paths
}

func collectDir(dir string, recursive bool, want map[string]bool) []string {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("walk error", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if want[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		logger.Warn("walk aborted", logger.String("dir", dir), logger.ErrorField(err))
	}
	return paths
}

// GroupByFolder slices the file list into albums keyed by parent directory,
// ordered by directory path with members in path order.
func GroupByFolder(paths []string) []*model.Album {
	byDir := make(map[string][]*model.Track)
	for _, p := range paths {
		t := model.NewTrack(p)
		byDir[t.Directory()] = append(byDir[t.Directory()], t)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	albums := make([]*model.Album, 0, len(dirs))
	for _, d := range dirs {
		albums = append(albums, model.NewAlbum(d, byDir[d]))
	}
	return albums
}
