// Command sausyn renders SAU synthesis scripts to WAV files, plays
// them on the system audio device, or checks that they build.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/sausyn-go"
	intprog "github.com/cbegin/sausyn-go/internal/program"
	intsau "github.com/cbegin/sausyn-go/internal/sau"
)

type settings struct {
	SampleRate int    `yaml:"sample_rate"`
	OutDir     string `yaml:"out_dir"`
}

func main() {
	var (
		sampleRate   = pflag.IntP("sample-rate", "r", 0, "Output sample rate (default 96000).")
		output       = pflag.StringP("output", "o", "", "WAV output path. With several scripts, a directory.")
		play         = pflag.BoolP("play", "p", false, "Play through the audio device instead of writing WAV.")
		checkOnly    = pflag.BoolP("check-only", "c", false, "Stop after building the program.")
		inline       = pflag.StringP("eval", "e", "", "Treat the argument string as script text.")
		settingsPath = pflag.String("settings", "", "YAML file with render settings.")
		verbose      = pflag.BoolP("verbose", "v", false, "Log per-script details.")
		help         = pflag.BoolP("help", "h", false, "Display help text.")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if *help || (pflag.NArg() == 0 && *inline == "") {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] script...\n\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
		if *help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg := settings{SampleRate: sausyn.DefaultSampleRate}
	if *settingsPath != "" {
		data, err := os.ReadFile(*settingsPath)
		if err != nil {
			logger.Fatal("cannot read settings", "path", *settingsPath, "err", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.Fatal("cannot parse settings", "path", *settingsPath, "err", err)
		}
	}
	if *sampleRate > 0 {
		cfg.SampleRate = *sampleRate
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = sausyn.DefaultSampleRate
	}

	completed := 0
	if *inline != "" {
		if runScript(logger, "<string>", *inline, true, cfg, *output, *play, *checkOnly) {
			completed++
		}
	}
	for _, path := range pflag.Args() {
		if runScript(logger, path, "", false, cfg, *output, *play, *checkOnly) {
			completed++
		}
	}
	if completed == 0 {
		os.Exit(1)
	}
}

// runScript takes one script through parse, build, and render or
// playback. Returns whether the script completed.
func runScript(logger *log.Logger, name, text string, isInline bool, cfg settings, output string, play, checkOnly bool) bool {
	var script *intsau.Script
	if isInline {
		script = sausyn.ReadScriptString(name, text, os.Stderr)
	} else {
		var err error
		script, err = sausyn.ReadScript(name, os.Stderr)
		if err != nil {
			logger.Error("cannot read script", "path", name, "err", err)
			return false
		}
	}
	prog, err := sausyn.BuildProgram(script, os.Stderr)
	if err != nil {
		logger.Error("program build failed", "script", name, "err", err)
		return false
	}
	logger.Debug("program built",
		"script", name,
		"voices", prog.VoCount,
		"operators", prog.OpCount,
		"depth", prog.OpNestDepth,
		"duration_ms", prog.DurationMS)
	if checkOnly {
		return true
	}
	if play {
		return playProgram(logger, name, prog, cfg.SampleRate)
	}
	samples, err := sausyn.RenderSamples(prog, cfg.SampleRate, os.Stderr)
	if err != nil {
		logger.Error("render failed", "script", name, "err", err)
		return false
	}
	out := outputPath(name, output, cfg.OutDir)
	if err := os.WriteFile(out, sausyn.EncodeWAV16LE(samples, cfg.SampleRate, 2), 0o644); err != nil {
		logger.Error("cannot write output", "path", out, "err", err)
		return false
	}
	logger.Info("rendered", "script", name, "out", out,
		"seconds", float64(len(samples)/2)/float64(cfg.SampleRate))
	return true
}

func playProgram(logger *log.Logger, name string, prog *intprog.Program, sampleRate int) bool {
	gen, err := sausyn.NewPlayer(sampleRate, sausyn.WithDiagnostics(os.Stderr))
	if err != nil {
		logger.Error("audio setup failed", "err", err)
		return false
	}
	if err := gen.PlayProgram(prog); err != nil {
		logger.Error("playback failed", "script", name, "err", err)
		return false
	}
	gen.Wait()
	return true
}

// outputPath derives the WAV name: explicit -o wins, then the settings
// directory, then the script's own name with a .wav suffix.
func outputPath(script, output, outDir string) string {
	if output != "" {
		if st, err := os.Stat(output); err == nil && st.IsDir() {
			return filepath.Join(output, wavName(script))
		}
		return output
	}
	if outDir != "" {
		return filepath.Join(outDir, wavName(script))
	}
	return wavName(script)
}

func wavName(script string) string {
	base := filepath.Base(script)
	if base == "<string>" {
		return "sausyn.wav"
	}
	ext := filepath.Ext(base)
	if strings.EqualFold(ext, ".sau") {
		base = base[:len(base)-len(ext)]
	}
	return base + ".wav"
}
