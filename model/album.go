package model

// Album is an ordered set of tracks sharing a destination folder. Album-level
// gain, peak and range are defined only after every member scan succeeded.
type Album struct {
	Directory string
	Tracks    []*Track
}

// NewAlbum groups the given tracks, which must share a parent folder.
func NewAlbum(dir string, tracks []*Track) *Album {
	return &Album{Directory: dir, Tracks: tracks}
}

// Count returns the number of member tracks.
func (a *Album) Count() int {
	return len(a.Tracks)
}

// AllScanned reports whether every member scan succeeded.
func (a *Album) AllScanned() bool {
	for _, t := range a.Tracks {
		if t.Status != Succeeded {
			return false
		}
	}
	return true
}

// HasDifferentContainers reports whether members disagree on container format.
func (a *Album) HasDifferentContainers() bool {
	for i := 1; i < len(a.Tracks); i++ {
		if a.Tracks[0].Container != a.Tracks[i].Container {
			return true
		}
	}
	return false
}

// HasDifferentCodecs reports whether members disagree on codec.
func (a *Album) HasDifferentCodecs() bool {
	for i := 1; i < len(a.Tracks); i++ {
		if a.Tracks[0].Codec != a.Tracks[i].Codec {
			return true
		}
	}
	return false
}

// HasOpus reports whether any member is an Opus track.
func (a *Album) HasOpus() bool {
	for _, t := range a.Tracks {
		if t.IsOpus() {
			return true
		}
	}
	return false
}
