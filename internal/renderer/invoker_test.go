package renderer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenegen/internal/adapters/storage/localfs"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/ports"
)

// Fake renderer scripts receive: $1=-q<quality> $2=--media_dir $3=<dir> $4=<file> $5=<scene>.
const produceVideo = `mkdir -p "$3/videos/scene_x/1080p60" && printf 'video' > "$3/videos/scene_x/1080p60/$5.mp4"`

type testEnv struct {
	dir     string
	codeDir string
	workDir string
	store   *localfs.LocalFS
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer scripts need a POSIX shell")
	}

	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		codeDir: filepath.Join(dir, "code"),
		workDir: filepath.Join(dir, "work"),
		store:   localfs.New(filepath.Join(dir, "videos")),
	}
	require.NoError(t, os.MkdirAll(env.workDir, 0o755))
	return env
}

func (e *testEnv) script(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func (e *testEnv) invoker(binary string, opts ...Option) *Invoker {
	return e.invokerWith(Config{Binary: binary}, opts...)
}

func (e *testEnv) invokerWith(cfg Config, opts ...Option) *Invoker {
	cfg.Scene = "Scene0"
	if cfg.Quality == "" {
		cfg.Quality = "h"
	}
	if cfg.FallbackQuality == "" {
		cfg.FallbackQuality = "l"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.CodeDir = e.codeDir
	cfg.WorkDir = e.workDir
	cfg.Availability = ProbeCommand(exec.LookPath, cfg.Sandbox, cfg.Binary)
	return New(cfg, e.store, logger.NewDiscard(), opts...)
}

func (e *testEnv) video(t *testing.T, key string) string {
	t.Helper()
	rc, _, _, err := e.store.GetObject(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) assertWorkDirClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dirs must be removed")
}

func TestRenderSuccess(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `echo "rendering $5"`+"\n"+produceVideo)

	res := env.invoker(bin).Render(context.Background(), "from manim import *")

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, KindNone, res.Kind)
	assert.True(t, ValidID(res.VideoID))
	assert.Equal(t, res.VideoID+".mp4", res.VideoPath)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "h", res.Quality)
	assert.Contains(t, res.Output, "rendering Scene0")
	assert.Equal(t, "video", env.video(t, res.VideoPath))

	code, err := os.ReadFile(filepath.Join(env.codeDir, "scene_"+res.VideoID+".py"))
	require.NoError(t, err)
	assert.Equal(t, "from manim import *", string(code))

	env.assertWorkDirClean(t)
}

func TestRenderRetriesAtFallbackQuality(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `if [ "$1" = "-qh" ]; then echo "out of memory" >&2; exit 1; fi`+"\n"+produceVideo)

	res := env.invoker(bin).Render(context.Background(), "x = 1")

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "l", res.Quality)
	env.assertWorkDirClean(t)
}

func TestRenderExitFailure(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `echo "partial"; echo "NameError: name 'Circl' is not defined" >&2; exit 1`)

	res := env.invoker(bin).Render(context.Background(), "x = Circl()")

	assert.False(t, res.Success)
	assert.Equal(t, KindExit, res.Kind)
	assert.Equal(t, 2, res.Attempts, "one fallback retry")
	assert.Contains(t, res.Error, "NameError")
	assert.Equal(t, res.Error, res.Stderr)
	assert.Contains(t, res.Output, "partial")
	assert.Empty(t, res.VideoID)
	env.assertWorkDirClean(t)
}

func TestRenderExitWithoutStderr(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `exit 3`)

	res := env.invoker(bin).Render(context.Background(), "x = 1")

	assert.Equal(t, KindExit, res.Kind)
	assert.Contains(t, res.Error, "exit status 3")
}

func TestRenderNoArtifact(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `echo "done"; exit 0`)

	res := env.invoker(bin).Render(context.Background(), "x = 1")

	assert.False(t, res.Success)
	assert.Equal(t, KindNoArtifact, res.Kind)
	assert.Equal(t, MsgNoVideo, res.Error)
	assert.Equal(t, 1, res.Attempts, "a clean exit is not retried")
	assert.Equal(t, "done\n", res.Output)
}

func TestRenderTimeout(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `sleep 30`)

	start := time.Now()
	res := env.invokerWith(Config{Binary: bin, Timeout: 200 * time.Millisecond}).
		Render(context.Background(), "x = 1")

	assert.Less(t, time.Since(start), 5*time.Second, "process group must be killed")
	assert.False(t, res.Success)
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Equal(t, "Rendering timed out (200ms)", res.Error)
	assert.Equal(t, 1, res.Attempts, "timeouts are not retried")
	env.assertWorkDirClean(t)
}

func TestRenderTimeoutMessageDefault(t *testing.T) {
	assert.Equal(t, "Rendering timed out (30s)", fmt.Sprintf("Rendering timed out (%s)", 30*time.Second))
}

func TestRenderScrubsAPIKey(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-secret")
	bin := env.script(t, "manim", `if [ -n "$OPENROUTER_API_KEY" ]; then echo leaked >&2; exit 1; fi`+"\n"+produceVideo)

	res := env.invoker(bin).Render(context.Background(), "x = 1")

	assert.True(t, res.Success, "error: %s", res.Error)
}

func TestRenderUsesSandboxPrefix(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", produceVideo)
	marker := filepath.Join(env.dir, "sandboxed")
	wrapper := env.script(t, "sandbox", fmt.Sprintf(`[ "$1" = "--flag" ] || exit 9
touch %q
shift
exec "$@"`, marker))

	res := env.invokerWith(Config{Binary: bin, Sandbox: []string{wrapper, "--flag"}}).
		Render(context.Background(), "x = 1")

	require.True(t, res.Success, "error: %s", res.Error)
	assert.FileExists(t, marker)
}

func TestRenderWithRelativeDirs(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", `[ -f "$4" ] || { echo "No such file: $4" >&2; exit 2; }
case "$3" in /*) ;; *) echo "relative media dir: $3" >&2; exit 3 ;; esac
`+produceVideo)
	t.Chdir(env.dir)

	inv := New(Config{
		Binary:          bin,
		Quality:         "h",
		FallbackQuality: "l",
		Timeout:         10 * time.Second,
		CodeDir:         "data/manim-code",
		WorkDir:         "work",
		Availability:    Probe(exec.LookPath, bin),
	}, env.store, logger.NewDiscard(), WithIDGenerator(sequence("cccccccccccc")))

	res := inv.Render(context.Background(), "x = 1")

	require.True(t, res.Success, "kind=%s error=%s", res.Kind, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, filepath.IsAbs(inv.CodeDir()))
	assert.FileExists(t, filepath.Join(env.dir, "data", "manim-code", "scene_cccccccccccc.py"))
	env.assertWorkDirClean(t)
}

func TestRenderUnavailableInsideSandbox(t *testing.T) {
	env := newTestEnv(t)
	wrapper := env.script(t, "sandbox", `exec "$@"`)

	inv := env.invokerWith(Config{Binary: filepath.Join(env.dir, "missing-manim"), Sandbox: []string{wrapper}})
	res := inv.Render(context.Background(), "x = 1")

	assert.Equal(t, KindUnavailable, res.Kind)
	assert.Contains(t, res.Error, "missing-manim")
}

func TestRenderUnavailable(t *testing.T) {
	env := newTestEnv(t)
	inv := env.invoker(filepath.Join(env.dir, "missing-manim"))

	res := inv.Render(context.Background(), "x = 1")

	assert.Equal(t, KindUnavailable, res.Kind)
	assert.Contains(t, res.Error, "renderer unavailable")
	assert.NoDirExists(t, env.codeDir, "nothing is written when the renderer is missing")
}

func sequence(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestRenderForcedCollisionYieldsDistinctOutputs(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", produceVideo)
	inv := env.invoker(bin, WithIDGenerator(sequence("aaaaaaaaaaaa", "aaaaaaaaaaaa", "bbbbbbbbbbbb")))

	first := inv.Render(context.Background(), "first")
	second := inv.Render(context.Background(), "second")

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, "aaaaaaaaaaaa", first.VideoID)
	assert.Equal(t, "bbbbbbbbbbbb", second.VideoID)
	assert.NotEqual(t, first.VideoPath, second.VideoPath)
}

func TestRenderConcurrentCollisions(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", produceVideo)

	var mu sync.Mutex
	n := 0
	// Every id is handed out twice.
	gen := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := fmt.Sprintf("%012x", n/2)
		n++
		return id
	}
	inv := env.invoker(bin, WithIDGenerator(gen))

	const workers = 4
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = inv.Render(context.Background(), fmt.Sprintf("scene %d", i))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, r := range results {
		require.True(t, r.Success, "error: %s", r.Error)
		assert.False(t, seen[r.VideoPath], "duplicate output %s", r.VideoPath)
		seen[r.VideoPath] = true
	}

	objs, err := env.store.ListObjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, objs, workers)
}

func TestRenderGivesUpWhenIDsKeepColliding(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", produceVideo)
	require.NoError(t, os.MkdirAll(env.codeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.codeDir, "scene_aaaaaaaaaaaa.py"), nil, 0o644))

	res := env.invoker(bin, WithIDGenerator(sequence("aaaaaaaaaaaa"))).Render(context.Background(), "x")

	assert.Equal(t, KindIO, res.Kind)
	assert.Contains(t, res.Error, "unique render id")
}

type panickingStore struct{ ports.StorageProvider }

func (panickingStore) PutObject(context.Context, ports.PutObjectInput) (ports.PutObjectOutput, error) {
	panic("disk on fire")
}

func TestRenderRecoversFromPanics(t *testing.T) {
	env := newTestEnv(t)
	bin := env.script(t, "manim", produceVideo)
	inv := env.invoker(bin)
	inv.store = panickingStore{}

	res := inv.Render(context.Background(), "x = 1")

	assert.False(t, res.Success)
	assert.Equal(t, KindIO, res.Kind)
	assert.Contains(t, res.Error, "disk on fire")
	env.assertWorkDirClean(t)
}

func TestScrubEnv(t *testing.T) {
	got := scrubEnv([]string{"PATH=/bin", "OPENROUTER_API_KEY=x", "OPENROUTER_MODEL=y", "HOME=/root"})
	assert.Equal(t, []string{"PATH=/bin", "HOME=/root"}, got)
}

func TestFindArtifact(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "videos", "scene", "480p15")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "Scene0.mp4"), []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "Other.mp4"), []byte("v"), 0o644))

	path, ok := findArtifact(dir, "Scene0")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(path, filepath.Join("480p15", "Scene0.mp4")))

	_, ok = findArtifact(dir, "Scene1")
	assert.False(t, ok)
}
