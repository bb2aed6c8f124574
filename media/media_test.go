package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeRunner records invocations and returns scripted results.
type fakeRunner struct {
	calls   [][]string
	results []commandResult
	errs    []error
	onRun   func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if f.onRun != nil {
		f.onRun(name, args)
	}
	i := len(f.calls) - 1
	var res commandResult
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func TestProbe_ParsesDuration(t *testing.T) {
	runner := &fakeRunner{results: []commandResult{{Stdout: "125.43\n"}}}
	p := NewProcessor(withRunner(runner))

	d, err := p.Probe(context.Background(), "/tmp/in.wav")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	want := time.Duration(125.43 * float64(time.Second))
	if d != want {
		t.Errorf("duration = %v, want %v", d, want)
	}

	call := runner.calls[0]
	if call[0] != "ffprobe" {
		t.Errorf("binary = %s, want ffprobe", call[0])
	}
	if call[len(call)-1] != "/tmp/in.wav" {
		t.Errorf("input = %s, want /tmp/in.wav", call[len(call)-1])
	}
}

func TestProbe_BadOutput(t *testing.T) {
	runner := &fakeRunner{results: []commandResult{{Stdout: "N/A"}}}
	p := NewProcessor(withRunner(runner))

	if _, err := p.Probe(context.Background(), "/tmp/in.wav"); err == nil {
		t.Error("Probe should fail on unparseable duration")
	}
}

func TestProbe_CommandFailure(t *testing.T) {
	runner := &fakeRunner{
		results: []commandResult{{Stderr: "no such file", ExitCode: 1}},
		errs:    []error{errors.New("exit status 1")},
	}
	p := NewProcessor(withRunner(runner))

	_, err := p.Probe(context.Background(), "/tmp/missing.wav")
	if err == nil {
		t.Fatal("Probe should propagate command failure")
	}
	if !strings.Contains(err.Error(), "no such file") {
		t.Errorf("error should include stderr, got %v", err)
	}
}

func TestPreprocess_BuildsNormalizationArgs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")
	runner := &fakeRunner{onRun: func(_ string, _ []string) {
		// ffmpeg would create the output file.
		os.WriteFile(out, []byte("wav"), 0o644)
	}}
	p := NewProcessor(withRunner(runner))

	if err := p.Preprocess(context.Background(), "/tmp/in.m4a", out); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	call := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"ffmpeg", "-i /tmp/in.m4a", "loudnorm", "silenceremove", "-ac 1", "-ar 16000", "pcm_s16le"} {
		if !strings.Contains(call, want) {
			t.Errorf("args missing %q: %s", want, call)
		}
	}
}

func TestPreprocess_MissingOutputFails(t *testing.T) {
	runner := &fakeRunner{}
	p := NewProcessor(withRunner(runner))

	err := p.Preprocess(context.Background(), "/tmp/in.m4a", filepath.Join(t.TempDir(), "never.wav"))
	if err == nil {
		t.Fatal("Preprocess should fail when ffmpeg leaves no output")
	}
}

func TestSplit_ReturnsChunksInOrder(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{onRun: func(_ string, _ []string) {
		for _, name := range []string{"part-0002.wav", "part-0000.wav", "part-0001.wav"} {
			os.WriteFile(filepath.Join(outDir, name), []byte("wav"), 0o644)
		}
	}}
	p := NewProcessor(withRunner(runner))

	chunks, err := p.Split(context.Background(), "/tmp/in.wav", time.Minute, outDir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasSuffix(c, "part-000"+string(rune('0'+i))+".wav") {
			t.Errorf("chunks[%d] = %s, want part-%04d.wav", i, c, i)
		}
	}

	call := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"-f segment", "-segment_time 60", "-c copy"} {
		if !strings.Contains(call, want) {
			t.Errorf("args missing %q: %s", want, call)
		}
	}
}

func TestSplit_NoChunksIsError(t *testing.T) {
	p := NewProcessor(withRunner(&fakeRunner{}))

	if _, err := p.Split(context.Background(), "/tmp/in.wav", time.Minute, t.TempDir()); err == nil {
		t.Error("Split should fail when ffmpeg produces no chunks")
	}
}

func TestSplit_RejectsBadChunkLength(t *testing.T) {
	p := NewProcessor(withRunner(&fakeRunner{}))

	if _, err := p.Split(context.Background(), "/tmp/in.wav", 0, t.TempDir()); err == nil {
		t.Error("Split should reject zero chunk length")
	}
}
