package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gainscan/config"
	"gainscan/core/batch"
	"gainscan/core/decode"
	"gainscan/core/pool"
	"gainscan/core/report"
	"gainscan/core/scan"
	"gainscan/core/tagio"
	"gainscan/logger"
)

var flags struct {
	album       bool
	preGain     float64
	noClip      bool
	maxTruePeak float64
	tagMode     string
	threads     int
	recursive   bool
	skipTagged  bool
	lowercase   bool
	strip       bool
	id3v2       int
	extensions  string
	csvPath     string
	tabOutput   bool
	unitLU      bool
	verbose     int
	quiet       bool
}

var rootCmd = &cobra.Command{
	Use:   "gainscan [flags] FILE|DIRECTORY ...",
	Short: "gainscan is a batch ReplayGain 2.0 loudness scanner.",
	Long: `gainscan measures EBU R128 / ITU-R BS.1770 loudness and true peak for
audio files, computes ReplayGain 2.0 track (and album) gain, and optionally
writes the result into the files' tags. Decoding and tag rewriting are done
through ffmpeg/ffprobe, which must be on PATH or configured.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScan,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&flags.album, "album", "a", false, "calculate album gain per folder")
	f.Float64VarP(&flags.preGain, "pregain", "d", 0, "apply pre-gain in dB (clamped to ±32)")
	f.BoolVarP(&flags.noClip, "no-clip-prevention", "k", false, "keep gains that push peaks past the ceiling")
	f.Float64VarP(&flags.maxTruePeak, "maxtpl", "K", -1.0, "true peak ceiling in dBTP for clipping prevention")
	f.StringVarP(&flags.tagMode, "tagmode", "s", config.TagModeSkip, "tag mode: skip, write, extra or delete")
	f.IntVarP(&flags.threads, "threads", "j", 0, "worker threads (0 = one per CPU)")
	f.BoolVarP(&flags.recursive, "recursive", "r", false, "recurse into subdirectories")
	f.BoolVarP(&flags.skipTagged, "skip-tagged", "S", false, "skip files that already carry ReplayGain tags")
	f.BoolVarP(&flags.lowercase, "lowercase", "L", false, "write lowercase tag keys (ID3v2 only)")
	f.BoolVar(&flags.strip, "striptags", false, "strip ID3v1 side tags when rewriting MP3s")
	f.IntVarP(&flags.id3v2, "id3v2version", "I", 4, "ID3v2 version to write (3 or 4)")
	f.StringVarP(&flags.extensions, "extensions", "e", "", "comma-separated extension filter for directory walks")
	f.StringVarP(&flags.csvPath, "csv", "o", "", "export results to a CSV file")
	f.BoolVarP(&flags.tabOutput, "output", "O", false, "print tab-delimited result rows on stdout")
	f.BoolVar(&flags.unitLU, "lu", false, "label gains in LU instead of dB")
	f.CountVarP(&flags.verbose, "verbose", "v", "increase output (repeatable)")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "warnings and errors only")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	})

	threads := cfg.Threads
	if threads <= 0 {
		threads = pool.DefaultThreads()
	}
	p, err := pool.New(threads)
	if err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	rep, err := report.New(report.Options{
		TabOutput: cfg.TabOutput,
		CSVPath:   cfg.CSVPath,
		Verbosity: cfg.Verbosity,
		UnitLU:    cfg.UnitLU,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rep.Close(); cerr != nil {
			logger.Error("closing report sink failed", logger.ErrorField(cerr))
		}
	}()

	engine := decode.NewEngine(cfg.FFmpegPath, cfg.FFprobePath)
	scanner := scan.NewScanner(engine, scan.R128Suite{}, cfg.PreGain, cfg.Verbosity >= 2)
	tagger := batch.NewTagger(tagio.Options{
		FFmpegPath:    cfg.FFmpegPath,
		LowercaseTags: cfg.LowercaseTags,
		StripTags:     cfg.StripTags,
		ID3v2Version:  cfg.ID3v2Version,
	})

	runner := batch.NewRunner(p, scanner, tagger, rep, batch.Options{
		AlbumMode:       cfg.AlbumMode,
		WriteTags:       cfg.TagMode == config.TagModeWrite || cfg.TagMode == config.TagModeExtra,
		ExtraTags:       cfg.TagMode == config.TagModeExtra,
		DeleteTags:      cfg.TagMode == config.TagModeDelete,
		SkipTagged:      cfg.SkipTagged,
		PreventClipping: cfg.PreventClipping,
		MaxTruePeakDB:   cfg.MaxTruePeak,
		UnitLU:          cfg.UnitLU,
	})

	files := batch.Collect(args, cfg.Recursive, cfg.Extensions)
	if len(files) == 0 {
		return fmt.Errorf("no audio files found in the given paths")
	}
	logger.Info("starting batch",
		logger.Int("files", len(files)),
		logger.Int("threads", p.Size()),
		logger.Bool("album", cfg.AlbumMode),
		logger.String("tagmode", cfg.TagMode))

	return runner.Run(files)
}

// loadConfig merges environment configuration with command-line overrides.
// Flags the user set explicitly win over the environment.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()

	set := cmd.Flags().Changed
	if set("album") {
		cfg.AlbumMode = flags.album
	}
	if set("pregain") {
		cfg.PreGain = flags.preGain
	}
	if set("no-clip-prevention") {
		cfg.PreventClipping = !flags.noClip
	}
	if set("maxtpl") {
		// Asking for a ceiling means asking for prevention.
		cfg.MaxTruePeak = flags.maxTruePeak
		cfg.PreventClipping = true
	}
	if set("tagmode") {
		cfg.TagMode = normalizeTagMode(flags.tagMode)
	}
	if set("threads") {
		cfg.Threads = flags.threads
	}
	if set("recursive") {
		cfg.Recursive = flags.recursive
	}
	if set("skip-tagged") {
		cfg.SkipTagged = flags.skipTagged
	}
	if set("lowercase") {
		cfg.LowercaseTags = flags.lowercase
	}
	if set("striptags") {
		cfg.StripTags = flags.strip
	}
	if set("id3v2version") {
		cfg.ID3v2Version = flags.id3v2
	}
	if set("csv") {
		cfg.CSVPath = flags.csvPath
	}
	if set("output") {
		cfg.TabOutput = flags.tabOutput
	}
	if set("lu") {
		cfg.UnitLU = flags.unitLU
	}
	if flags.extensions != "" {
		cfg.SetExtensions(flags.extensions)
	}
	if flags.quiet {
		cfg.Verbosity = 0
		cfg.LogLevel = "warn"
	} else if flags.verbose > 0 {
		cfg.Verbosity = 1 + flags.verbose
		if flags.verbose >= 2 {
			cfg.LogLevel = "debug"
		}
	}

	cfg.Clamp()
	return cfg
}

// normalizeTagMode accepts both full mode names and their single-letter forms.
func normalizeTagMode(mode string) string {
	switch mode {
	case "s":
		return config.TagModeSkip
	case "i":
		return config.TagModeWrite
	case "e":
		return config.TagModeExtra
	case "d":
		return config.TagModeDelete
	default:
		return mode
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
