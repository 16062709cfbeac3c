// Package decode opens audio files and decodes their best audio stream to
// interleaved 16-bit samples by driving ffmpeg/ffprobe subprocesses.
package decode

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

var (
	// ErrOpen means the container could not be opened or probed.
	ErrOpen = errors.New("decode: could not open input")
	// ErrNoAudioStream means the container holds no usable audio stream.
	ErrNoAudioStream = errors.New("decode: no audio stream")
	// ErrDecode means decoding failed after the stream was selected.
	ErrDecode = errors.New("decode: decoding failed")
)

// StreamInfo describes the selected audio stream of a container.
type StreamInfo struct {
	CodecName     string
	CodecLongName string
	Container     string
	ContainerLong string
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// Engine runs ffmpeg and ffprobe. The zero value is not usable; construct it
// with NewEngine.
type Engine struct {
	ffmpegPath  string
	ffprobePath string
}

// NewEngine creates an engine using the given binary paths.
func NewEngine(ffmpegPath, ffprobePath string) *Engine {
	return &Engine{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		CodecName        string `json:"codec_name"`
		CodecLongName    string `json:"codec_long_name"`
		Channels         int    `json:"channels"`
		SampleRate       string `json:"sample_rate"`
		BitsPerRawSample string `json:"bits_per_raw_sample"`
	} `json:"streams"`
	Format struct {
		FormatName     string `json:"format_name"`
		FormatLongName string `json:"format_long_name"`
	} `json:"format"`
}

// Probe opens the container and returns codec and format information for the
// best audio stream.
func (e *Engine) Probe(path string) (StreamInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,codec_long_name,channels,sample_rate,bits_per_raw_sample",
		"-show_entries", "format=format_name,format_long_name",
		"-of", "json",
		path,
	}

	cmd := exec.Command(e.ffprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: %s: %v: %s", ErrOpen, path, err, stderr.String())
	}

	var probed probeOutput
	if err := json.Unmarshal(out.Bytes(), &probed); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: %s: bad probe output: %v", ErrOpen, path, err)
	}
	if len(probed.Streams) == 0 {
		return StreamInfo{}, fmt.Errorf("%w: %s", ErrNoAudioStream, path)
	}

	st := probed.Streams[0]
	rate, err := strconv.Atoi(st.SampleRate)
	if err != nil || rate <= 0 {
		return StreamInfo{}, fmt.Errorf("%w: %s: bad sample rate %q", ErrNoAudioStream, path, st.SampleRate)
	}
	if st.Channels <= 0 {
		return StreamInfo{}, fmt.Errorf("%w: %s: bad channel count %d", ErrNoAudioStream, path, st.Channels)
	}
	bits, _ := strconv.Atoi(st.BitsPerRawSample)

	return StreamInfo{
		CodecName:     st.CodecName,
		CodecLongName: st.CodecLongName,
		Container:     probed.Format.FormatName,
		ContainerLong: probed.Format.FormatLongName,
		Channels:      st.Channels,
		SampleRate:    rate,
		BitsPerSample: bits,
	}, nil
}

// decodeBlockBytes is the read granularity for decoded PCM. Blocks handed to
// the sink are always whole frames.
const decodeBlockBytes = 64 * 1024

// DecodeS16 decodes the best audio stream to interleaved signed 16-bit
// samples at the source sample rate and calls sink for each block until EOF.
// A sink error aborts decoding and is returned unchanged.
func (e *Engine) DecodeS16(path string, info StreamInfo, sink func(samples []int16) error) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vn",
		"-map", "0:a:0",
		"-ac", strconv.Itoa(info.Channels),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	}

	cmd := exec.Command(e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	frameBytes := 2 * info.Channels
	buf := make([]byte, decodeBlockBytes)
	carry := 0
	var sinkErr error

	for sinkErr == nil {
		n, readErr := stdout.Read(buf[carry:])
		n += carry
		whole := n - n%frameBytes

		if whole > 0 {
			samples := make([]int16, whole/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i : 2*i+2]))
			}
			sinkErr = sink(samples)
		}

		carry = copy(buf, buf[whole:n])
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("%w: %s: %v", ErrDecode, path, readErr)
		}
	}

	if sinkErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return sinkErr
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrDecode, path, err, stderr.String())
	}
	return nil
}
