// Package renderer runs generated scripts through the Manim CLI and stores
// the resulting video.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/pkg/metrics"
	"scenegen/internal/ports"
)

// maxIDAttempts bounds how many ids are drawn when a code file already exists.
const maxIDAttempts = 5

// scrubbedEnvPrefixes are removed from the renderer environment.
var scrubbedEnvPrefixes = []string{"OPENROUTER_"}

type Config struct {
	Binary          string
	Scene           string
	Quality         string
	FallbackQuality string
	Timeout         time.Duration
	// CodeDir keeps every executed script for debugging.
	CodeDir string
	// WorkDir is the parent of per-render temp dirs; empty means os.TempDir.
	WorkDir string
	// Sandbox is prepended to the renderer argv, e.g. ["firejail", "--quiet"].
	Sandbox      []string
	Availability Availability
}

type Invoker struct {
	cfg     Config
	store   ports.StorageProvider
	newID   func() string
	log     *logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Invoker)

// WithIDGenerator replaces NewID.
func WithIDGenerator(fn func() string) Option {
	return func(inv *Invoker) { inv.newID = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(inv *Invoker) { inv.metrics = m }
}

func New(cfg Config, store ports.StorageProvider, log *logger.Logger, opts ...Option) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Scene == "" {
		cfg.Scene = "Scene0"
	}
	// The renderer runs inside the media dir, so paths handed to it must
	// not depend on the API's working directory.
	cfg.CodeDir = absDir(cfg.CodeDir)
	cfg.WorkDir = absDir(cfg.WorkDir)
	inv := &Invoker{
		cfg:   cfg,
		store: store,
		newID: NewID,
		log:   log.WithComponent("renderer"),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// CodeDir returns the directory executed scripts are kept in.
func (inv *Invoker) CodeDir() string { return inv.cfg.CodeDir }

// Available reports the result of the startup probe.
func (inv *Invoker) Available() Availability { return inv.cfg.Availability }

// Render executes code once at the configured quality and, if the renderer
// exits non-zero, once more at the fallback quality. It never returns an
// error; every failure is described by the Result.
func (inv *Invoker) Render(ctx context.Context, code string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			inv.log.FromContext(ctx).Error("render panicked", "panic", r, "stack", string(debug.Stack()))
			res = failure(KindIO, fmt.Sprintf("render panicked: %v\n%s", r, debug.Stack()))
		}
	}()

	if !inv.cfg.Availability.OK() {
		return failure(KindUnavailable, fmt.Sprintf("renderer unavailable: %s", inv.cfg.Availability))
	}

	id, codePath, err := inv.writeCode(code)
	if err != nil {
		inv.log.FromContext(ctx).Error("failed to write scene file", "error", err.Error())
		return failure(KindIO, err.Error())
	}

	ctx = logger.ContextWithRenderID(ctx, id)
	log := inv.log.FromContext(ctx)

	workDir, err := os.MkdirTemp(inv.cfg.WorkDir, "render-"+id+"-")
	if err != nil {
		return failure(KindIO, errors.Wrap(err, "renderer.workdir", "create work dir").Error())
	}
	defer os.RemoveAll(workDir)

	qualities := []string{inv.cfg.Quality}
	if fb := inv.cfg.FallbackQuality; fb != "" && fb != inv.cfg.Quality {
		qualities = append(qualities, fb)
	}

	for i, quality := range qualities {
		mediaDir := filepath.Join(workDir, fmt.Sprintf("attempt-%d", i+1))
		if err := os.Mkdir(mediaDir, 0o755); err != nil {
			return failure(KindIO, errors.Wrap(err, "renderer.workdir", "create media dir").Error())
		}

		res = inv.attempt(ctx, id, codePath, mediaDir, quality)
		res.Attempts = i + 1
		res.Quality = quality

		if res.Kind != KindExit {
			break
		}
		if i+1 < len(qualities) {
			log.Warn("renderer exited non-zero, retrying at fallback quality",
				"quality", quality,
				"fallback", qualities[i+1],
			)
		}
	}

	if res.Success {
		log.Info("render completed", "video", res.VideoPath, "attempts", res.Attempts, "quality", res.Quality)
	} else {
		log.Warn("render failed", "kind", string(res.Kind), "attempts", res.Attempts)
	}
	return res
}

func (inv *Invoker) attempt(ctx context.Context, id, codePath, mediaDir, quality string) Result {
	start := time.Now()
	res := inv.run(ctx, codePath, mediaDir, quality)

	if res.Kind == KindNone {
		artifact, ok := findArtifact(mediaDir, inv.cfg.Scene)
		if !ok {
			res.Kind = KindNoArtifact
			res.Error = MsgNoVideo
		} else if key, err := storeArtifact(ctx, inv.store, artifact, id); err != nil {
			res.Kind = KindIO
			res.Error = err.Error()
		} else {
			res.Success = true
			res.VideoID = id
			res.VideoPath = key
		}
	}

	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = string(res.Kind)
	}
	inv.metrics.RecordRender(ctx, outcome, quality, time.Since(start))
	return res
}

// run spawns the renderer with its own timeout. The result has KindNone when
// the process exited zero.
func (inv *Invoker) run(ctx context.Context, codePath, mediaDir, quality string) Result {
	ctx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	argv := make([]string, 0, len(inv.cfg.Sandbox)+6)
	argv = append(argv, inv.cfg.Sandbox...)
	argv = append(argv, inv.cfg.Binary, "-q"+quality, "--media_dir", mediaDir, codePath, inv.cfg.Scene)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = mediaDir
	cmd.Env = scrubEnv(os.Environ())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	isolateProcess(cmd)

	inv.log.FromContext(ctx).Debug("spawning renderer", "argv", strings.Join(argv, " "))
	err := cmd.Run()

	res := Result{Output: stdout.String(), Stderr: stderr.String()}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.Kind = KindTimeout
		res.Error = fmt.Sprintf("Rendering timed out (%s)", inv.cfg.Timeout)
	case err == nil:
	case isExitError(err):
		res.Kind = KindExit
		res.Error = res.Stderr
		if strings.TrimSpace(res.Error) == "" {
			res.Error = fmt.Sprintf("%s failed: %v", inv.cfg.Binary, err)
		}
	default:
		res.Kind = KindIO
		res.Error = errors.Wrap(err, "renderer.exec", "run renderer").Error()
	}
	return res
}

// writeCode stores code under a fresh id, drawing a new id whenever the file
// already exists.
func (inv *Invoker) writeCode(code string) (id, path string, err error) {
	const op = "renderer.code"

	if err := os.MkdirAll(inv.cfg.CodeDir, 0o755); err != nil {
		return "", "", errors.Wrap(err, op, "create code dir")
	}

	for range maxIDAttempts {
		id = inv.newID()
		path = filepath.Join(inv.cfg.CodeDir, "scene_"+id+".py")

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", errors.Wrap(err, op, "create scene file")
		}

		_, err = f.WriteString(code)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", "", errors.Wrap(err, op, "write scene file")
		}
		return id, path, nil
	}

	return "", "", errors.New(errors.CodeInternal, "could not allocate a unique render id").
		WithField("attempts", maxIDAttempts)
}

// absDir resolves dir against the working directory. Empty stays empty.
func absDir(dir string) string {
	if dir == "" {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}

func scrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
next:
	for _, kv := range env {
		for _, p := range scrubbedEnvPrefixes {
			if strings.HasPrefix(kv, p) {
				continue next
			}
		}
		out = append(out, kv)
	}
	return out
}
