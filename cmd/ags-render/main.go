package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/config"
	"github.com/gsequencer/ags/engine"
	"github.com/gsequencer/ags/midi"
	"github.com/gsequencer/ags/stream"
	"github.com/gsequencer/ags/version"
)

// maxSeconds bounds the rendering of sessions that loop forever.
const maxSeconds = 300

func main() {
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the working directory.")
	play := flag.Bool("p", false, "Play the input sessions (default behaviour when no other output is defined).")
	rawOut := flag.Bool("r", false, "Output the rendered session as .raw file. By default, saves stereo float32 buffer to disk.")
	wavOut := flag.Bool("w", false, "Output the rendered session as .wav file. By default, saves 24-bit samples.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	seconds := flag.Float64("t", 0, fmt.Sprintf("Seconds to render. 0 renders until every transport is done, at most %d seconds.", maxSeconds))
	configPath := flag.String("config", "", "Configuration file. By default, ags.yml in the user's gsequencer config directory is used if it exists.")
	midFile := flag.String("mid", "", "Import the notes of a standard MIDI file as the notation of the first audio playing notation.")
	baseKey := flag.Uint("basekey", 60, "MIDI key of pad 0 when importing with -mid.")
	dump := flag.Bool("dump", false, "Print the recall graph of each session after loading it.")
	versionFlag := flag.Bool("v", false, "Print version.")
	verbose := flag.Bool("verbose", false, "Log debug messages.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load configuration: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if !*rawOut && !*wavOut && !*dump {
		*play = true // if the user gives nothing to output, then the default behaviour is just to play the session
	}
	var audioContext ags.AudioContext
	if *play {
		audioContext, err = newAudioContext(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not acquire %s AudioContext: %v\n", cfg.SoundCard.Backend, err)
			os.Exit(1)
		}
	}
	process := func(filename string) error {
		session, err := readSession(filename)
		if err != nil {
			return err
		}
		if *midFile != "" {
			if err := importNotation(session, *midFile, byte(*baseKey)); err != nil {
				return err
			}
		}
		e := engine.NewFromConfig(cfg, logger.With("session", filepath.Base(filename)), Loaders)
		defer e.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go e.Watch(ctx)
		if _, err := e.LoadSession(session); err != nil {
			return fmt.Errorf("could not load session: %w", err)
		}
		if *dump {
			if err := dumpGraph(os.Stdout, e.Snapshot()); err != nil {
				return err
			}
		}
		limit := cfg.SoundCard.SampleRate * maxSeconds
		if *seconds > 0 {
			limit = int(*seconds * float64(cfg.SoundCard.SampleRate))
		}
		if *play && !*rawOut && !*wavOut {
			start := time.Now()
			w := audioContext.Play(liveSource(e, limit))
			w.Wait()
			logger.Debug("played", "file", filename, "elapsed", time.Since(start), "xruns", e.Xruns())
			return w.Close()
		}
		if !*rawOut && !*wavOut {
			return nil
		}
		buffer, err := render(e, limit)
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		logger.Debug("rendered", "file", filename, "frames", len(buffer), "dropped-events", e.DroppedEvents())
		if *rawOut {
			raw, err := buffer.Raw(*pcm)
			if err != nil {
				return fmt.Errorf("could not generate .raw file: %w", err)
			}
			f, err := create(*directory, filename, ".raw")
			if err != nil {
				return err
			}
			_, err = f.Write(raw)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("error outputting .raw file: %w", err)
			}
		}
		if *wavOut {
			f, err := create(*directory, filename, ".wav")
			if err != nil {
				return err
			}
			err = stream.Encode(f, buffer.Source(), cfg.SoundCard.SampleRate, cfg.SoundCard.BufferSize, len(buffer), *pcm)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("error outputting .wav file: %w", err)
			}
		}
		if *play {
			w := audioContext.Play(buffer.Source())
			w.Wait()
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		files := []string{param}
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			ymlfiles, _ := filepath.Glob(filepath.Join(param, "*.yml"))
			jsonfiles, _ := filepath.Glob(filepath.Join(param, "*.json"))
			files = append(ymlfiles, jsonfiles...)
		}
		for _, file := range files {
			if err := process(file); err != nil {
				fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", file, err)
				retval = 1
			}
		}
	}
	if audioContext != nil {
		audioContext.Close()
	}
	os.Exit(retval)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	c, _, err := config.LoadUser()
	return c, err
}

func readSession(filename string) (*ags.Session, error) {
	inputBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read file %v: %w", filename, err)
	}
	var session ags.Session
	if errJSON := json.Unmarshal(inputBytes, &session); errJSON != nil {
		session = ags.Session{}
		if errYaml := yaml.Unmarshal(inputBytes, &session); errYaml != nil {
			return nil, fmt.Errorf("the session could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	return &session, nil
}

// importNotation replaces the notation of the first audio that has an
// ags-play-notation recall and makes it start playing notation.
func importNotation(s *ags.Session, path string, baseKey byte) error {
	for i := range s.Audios {
		a := &s.Audios[i]
		if !hasRecall(a, "ags-play-notation") {
			continue
		}
		n, err := midi.ReadNotation(path, midi.KeyMap{BaseKey: baseKey, Pads: a.Pads}, s.DelayFactor)
		if err != nil {
			return err
		}
		n.Loop, n.LoopStart, n.LoopEnd = a.Notation.Loop, a.Notation.LoopStart, a.Notation.LoopEnd
		a.Notation = n
		if len(a.Start) == 0 {
			a.Start = []ags.SoundScope{ags.ScopeNotation}
		}
		return nil
	}
	return fmt.Errorf("no audio in the session plays notation, cannot import %s", path)
}

func hasRecall(a *ags.AudioSpec, name string) bool {
	for _, r := range a.Recalls {
		if r.Name == name {
			return true
		}
	}
	return false
}

// render ticks the engine until nothing plays anymore or limit frames have
// been rendered.
func render(e *engine.Engine, limit int) (ags.AudioBuffer, error) {
	buf := make(ags.AudioBuffer, e.BufferSize())
	var out ags.AudioBuffer
	for len(out) < limit {
		if err := e.Tick(buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
		if e.Snapshot().Playing() == 0 {
			break
		}
	}
	return out[:min(len(out), limit)], nil
}

// liveSource plays the engine on a soundcard. It reports io.EOF on the
// buffer after nothing plays anymore.
func liveSource(e *engine.Engine, limit int) ags.AudioSource {
	src := e.Source()
	frames, ended := 0, false
	return func(buf ags.AudioBuffer) error {
		if ended {
			clear(buf)
			return io.EOF
		}
		if err := src(buf); err != nil {
			return err
		}
		frames += len(buf)
		ended = frames >= limit || e.Snapshot().Playing() == 0
		return nil
	}
}

func create(directory, filename, extension string) (*os.File, error) {
	dir := directory
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get working directory, specify the output directory explicitly: %w", err)
		}
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create output directory %v: %w", dir, err)
	}
	_, name := filepath.Split(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("could not create file: %w", err)
	}
	return f, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "ags-render renders and plays gsequencer session files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
