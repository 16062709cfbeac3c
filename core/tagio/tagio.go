// Package tagio reads and writes ReplayGain tags across the container families
// the scanner supports. Presence checks parse existing metadata in-process;
// writing and clearing rewrite the file via an ffmpeg stream-copy remux so the
// audio data is never re-encoded.
package tagio

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Options configures tag writing for a whole batch run.
type Options struct {
	FFmpegPath    string
	LowercaseTags bool // force lowercase tag keys (ID3v2 family)
	StripTags     bool // drop ID3v1/APEv2 side tags when rewriting MP3s
	ID3v2Version  int  // 3 or 4
}

// Codec reads, writes and clears ReplayGain fields for one container family.
type Codec interface {
	// Present reports whether the file already carries ReplayGain tags
	// sufficient for the requested mode.
	Present(path string, albumMode, extra bool) (bool, error)
	// Write stores the field set, replacing any previous ReplayGain tags.
	Write(path string, f Fields) error
	// Clear removes all ReplayGain tags.
	Clear(path string) error
}

// style captures how one container family encodes the canonical field set.
type style struct {
	name      string
	q78       bool // R128 integer gains (Opus convention)
	lowerKeys bool // freeform keys are conventionally lowercase (MP4)
}

// The nine tag families, keyed by file extension.
var families = map[string]style{
	".mp3":  {name: "id3v2"},
	".flac": {name: "vorbis"},
	".ogg":  {name: "vorbis"},
	".oga":  {name: "vorbis"},
	".opus": {name: "opus", q78: true},
	".m4a":  {name: "mp4", lowerKeys: true},
	".mp4":  {name: "mp4", lowerKeys: true},
	".mov":  {name: "mp4", lowerKeys: true},
	".alac": {name: "mp4", lowerKeys: true},
	".aac":  {name: "mp4", lowerKeys: true},
	".3gp":  {name: "mp4", lowerKeys: true},
	".3g2":  {name: "mp4", lowerKeys: true},
	".mj2":  {name: "mp4", lowerKeys: true},
	".ape":  {name: "ape"},
	".asf":  {name: "asf"},
	".wma":  {name: "asf"},
	".wav":  {name: "riff"},
	".aif":  {name: "aiff"},
	".aiff": {name: "aiff"},
	".wv":   {name: "wavpack"},
}

// ForPath returns the tag codec responsible for the file's container family.
func ForPath(path string, opts Options) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	st, ok := families[ext]
	if !ok {
		return nil, fmt.Errorf("tagio: no tag support for %q files", ext)
	}
	return &codec{style: st, opts: opts}, nil
}

type codec struct {
	style style
	opts  Options
}

// Family returns the family name, used in diagnostics.
func (c *codec) Family() string { return c.style.name }

func (c *codec) key(name string) string {
	if c.style.lowerKeys || (c.style.name == "id3v2" && c.opts.LowercaseTags) {
		return strings.ToLower(name)
	}
	return name
}

// replayGainKeys is the full canonical key set; clearing always covers all of
// them so stale values never survive a mode switch.
var replayGainKeys = []string{
	"REPLAYGAIN_TRACK_GAIN",
	"REPLAYGAIN_TRACK_PEAK",
	"REPLAYGAIN_TRACK_RANGE",
	"REPLAYGAIN_ALBUM_GAIN",
	"REPLAYGAIN_ALBUM_PEAK",
	"REPLAYGAIN_ALBUM_RANGE",
	"REPLAYGAIN_REFERENCE_LOUDNESS",
}

var r128Keys = []string{
	"R128_TRACK_GAIN",
	"R128_ALBUM_GAIN",
}

// metadata builds the key/value pairs to remux into the file. Empty values
// delete the key, which keeps writes self-cleaning: anything not part of the
// requested mode is removed.
func (c *codec) metadata(f Fields) map[string]string {
	md := make(map[string]string)
	for _, k := range replayGainKeys {
		md[c.key(k)] = ""
	}
	for _, k := range r128Keys {
		md[c.key(k)] = ""
	}

	if c.style.q78 {
		md[c.key("R128_TRACK_GAIN")] = strconv.Itoa(GainToQ78(f.TrackGain))
		if f.HasAlbum {
			md[c.key("R128_ALBUM_GAIN")] = strconv.Itoa(GainToQ78(f.AlbumGain))
		}
		return md
	}

	md[c.key("REPLAYGAIN_TRACK_GAIN")] = f.gainString(f.TrackGain)
	md[c.key("REPLAYGAIN_TRACK_PEAK")] = f.peakString(f.TrackPeak)
	if f.HasAlbum {
		md[c.key("REPLAYGAIN_ALBUM_GAIN")] = f.gainString(f.AlbumGain)
		md[c.key("REPLAYGAIN_ALBUM_PEAK")] = f.peakString(f.AlbumPeak)
	}
	if f.Extra {
		md[c.key("REPLAYGAIN_REFERENCE_LOUDNESS")] = f.referenceString()
		md[c.key("REPLAYGAIN_TRACK_RANGE")] = f.rangeString(f.TrackRange)
		if f.HasAlbum {
			md[c.key("REPLAYGAIN_ALBUM_RANGE")] = f.rangeString(f.AlbumRange)
		}
	}
	return md
}

func (c *codec) Write(path string, f Fields) error {
	return c.remux(path, c.metadata(f))
}

func (c *codec) Clear(path string) error {
	md := make(map[string]string)
	for _, k := range replayGainKeys {
		md[c.key(k)] = ""
	}
	for _, k := range r128Keys {
		md[c.key(k)] = ""
	}
	return c.remux(path, md)
}

// remux rewrites the file in place with stream copy, replacing only metadata.
// The output goes to a sibling temp file first and is renamed over the
// original on success.
func (c *codec) remux(path string, metadata map[string]string) error {
	ext := filepath.Ext(path)
	tmp := strings.TrimSuffix(path, ext) + ".gainscan" + ext

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", path,
		"-map", "0",
		"-c", "copy",
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-metadata", k+"="+metadata[k])
	}
	args = append(args, c.familyArgs()...)
	args = append(args, tmp)

	cmd := exec.Command(c.opts.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tagio: remux failed for %s: %w: %s", path, err, stderr.String())
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tagio: could not replace %s: %w", path, err)
	}
	return nil
}

// familyArgs returns muxer flags specific to one family.
func (c *codec) familyArgs() []string {
	switch c.style.name {
	case "id3v2":
		args := []string{"-id3v2_version", strconv.Itoa(c.opts.ID3v2Version)}
		if c.opts.StripTags {
			args = append(args, "-write_id3v1", "0")
		}
		return args
	default:
		return nil
	}
}

// Present inspects existing metadata for ReplayGain (or R128) tags. Keys are
// matched case-insensitively since every family has a different casing
// convention.
func (c *codec) Present(path string, albumMode, extra bool) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("tagio: %s: %w", path, err)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		// No parseable tags at all means no ReplayGain tags.
		return false, nil
	}

	want := []string{"replaygain_track_gain", "replaygain_track_peak"}
	if c.style.q78 {
		want = []string{"r128_track_gain"}
	}
	if albumMode {
		if c.style.q78 {
			want = append(want, "r128_album_gain")
		} else {
			want = append(want, "replaygain_album_gain", "replaygain_album_peak")
		}
	}
	if extra && !c.style.q78 {
		want = append(want, "replaygain_reference_loudness")
	}

	raw := meta.Raw()
	for _, needle := range want {
		if !rawHasKey(raw, needle) {
			return false, nil
		}
	}
	return true, nil
}

// rawHasKey matches a tag key against raw metadata. ID3v2 user-text frames
// carry the real key inside the frame payload, so values are searched too.
func rawHasKey(raw map[string]interface{}, needle string) bool {
	for key, value := range raw {
		lower := strings.ToLower(key)
		if strings.Contains(lower, needle) {
			return true
		}
		if strings.HasPrefix(lower, "txxx") {
			if strings.Contains(strings.ToLower(fmt.Sprint(value)), needle) {
				return true
			}
		}
	}
	return false
}
