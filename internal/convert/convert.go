// Package convert runs the external archive-to-mbox converter and validates
// its output. Each invocation handles exactly one source archive; failures
// are reported as ConversionError values that the pipeline attributes to that
// archive alone.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/pstvault/pstvault/internal/archive"
	"github.com/pstvault/pstvault/internal/fileutil"
	"github.com/pstvault/pstvault/internal/mbox"
	"github.com/pstvault/pstvault/internal/textutil"
)

// ErrConverterNotFound indicates the converter binary could not be resolved
// at startup. It aborts the run before any archive is processed.
var ErrConverterNotFound = errors.New("converter binary not found")

// validateBytes caps how much of the converter output is scanned when
// checking that it is mbox-shaped.
const validateBytes int64 = 8 << 20 // 8 MiB

// stderrReasonRunes caps how much converter stderr is quoted in an error.
const stderrReasonRunes = 200

// ConversionError describes the failure of one archive's conversion. The
// orchestrator records it against that archive and keeps going.
type ConversionError struct {
	Archive string // archive name, not the full path
	Reason  string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("convert %s: %s: %v", e.Archive, e.Reason, e.Err)
	}
	return fmt.Sprintf("convert %s: %s", e.Archive, e.Reason)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Converter turns one source archive into an mbox file under outDir and
// returns the path of the produced file. Implementations must confine all
// intermediate state to outDir so a failed conversion leaves no final
// artifacts behind.
type Converter interface {
	Convert(ctx context.Context, src archive.Archive, outDir string) (string, error)
}

// Readpst invokes an external converter binary (readpst by default) as a
// child process, one run per archive. The child receives the configured
// arguments followed by "-o <staging dir> <archive path>" and is expected to
// write one or more mbox files into the staging directory.
type Readpst struct {
	binary  string // resolved absolute path
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewReadpst resolves the converter binary up front. A missing binary is a
// configuration error: the caller should abort before dispatching any work.
func NewReadpst(binary string, args []string, timeout time.Duration) (*Readpst, error) {
	if binary == "" {
		binary = "readpst"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrConverterNotFound, binary)
	}
	return &Readpst{
		binary:  path,
		args:    append([]string(nil), args...),
		timeout: timeout,
		logger:  slog.Default(),
	}, nil
}

// WithLogger sets the logger.
func (r *Readpst) WithLogger(logger *slog.Logger) *Readpst {
	r.logger = logger
	return r
}

// Convert runs the converter for src and installs the result at
// outDir/<Name>.mbox. The child writes into a private staging directory;
// its output is validated and renamed into place only on success, so a
// crashed or killed converter never leaves a half-written final file.
func (r *Readpst) Convert(ctx context.Context, src archive.Archive, outDir string) (string, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "source not readable", Err: err}
	}
	if info.Size() == 0 {
		return "", &ConversionError{Archive: src.Name, Reason: "source file is empty"}
	}

	if err := fileutil.SecureMkdirAll(outDir, 0o755); err != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "create mbox dir", Err: err}
	}

	mboxPath := filepath.Join(outDir, src.Name+".mbox")
	workDir := filepath.Join(outDir, src.Name+".work")
	if err := os.RemoveAll(workDir); err != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "clear stale staging dir", Err: err}
	}
	if err := fileutil.SecureMkdirAll(workDir, 0o700); err != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "create staging dir", Err: err}
	}
	defer os.RemoveAll(workDir)

	stderr, err := r.run(ctx, src, workDir)
	if err != nil {
		return "", err
	}

	outputs, err := stagedOutputs(workDir)
	if err != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "read staging dir", Err: err}
	}
	if len(outputs) == 0 {
		reason := "converter produced no mailbox output"
		if line := textutil.FirstLine(stderr); line != "" {
			reason = fmt.Sprintf("%s (stderr: %s)", reason, textutil.TruncateRunes(line, stderrReasonRunes))
		}
		return "", &ConversionError{Archive: src.Name, Reason: reason}
	}

	staged := mboxPath + ".partial"
	if err := assembleMbox(outputs, staged); err != nil {
		_ = os.Remove(staged)
		return "", &ConversionError{Archive: src.Name, Reason: "assemble mbox output", Err: err}
	}
	if err := validateMbox(staged); err != nil {
		_ = os.Remove(staged)
		return "", &ConversionError{Archive: src.Name, Reason: "converter output is not mbox", Err: err}
	}

	// os.Rename does not replace an existing file on Windows.
	if err := os.Remove(mboxPath); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(staged)
		return "", &ConversionError{Archive: src.Name, Reason: "replace previous mbox", Err: err}
	}
	if err := os.Rename(staged, mboxPath); err != nil {
		_ = os.Remove(staged)
		return "", &ConversionError{Archive: src.Name, Reason: "install mbox output", Err: err}
	}
	return mboxPath, nil
}

// run executes the child process and classifies its failure. The returned
// string is the captured stderr, kept for diagnostics even on success
// (readpst reports unconvertible items there without failing).
func (r *Readpst) run(ctx context.Context, src archive.Archive, workDir string) (string, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.args...), "-o", workDir, src.Path)
	cmd := exec.CommandContext(runCtx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	r.logger.Debug("running converter", "archive", src.Name, "binary", r.binary, "args", args)
	start := time.Now()
	runErr := cmd.Run()
	if runErr == nil {
		r.logger.Debug("converter finished", "archive", src.Name, "elapsed", time.Since(start))
		return stderr.String(), nil
	}

	if ctx.Err() != nil {
		return "", &ConversionError{Archive: src.Name, Reason: "canceled", Err: ctx.Err()}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", &ConversionError{
			Archive: src.Name,
			Reason:  fmt.Sprintf("converter timed out after %s", r.timeout),
			Err:     runCtx.Err(),
		}
	}
	reason := "converter failed"
	if line := textutil.FirstLine(stderr.String()); line != "" {
		reason = fmt.Sprintf("converter failed: %s", textutil.TruncateRunes(line, stderrReasonRunes))
	}
	return "", &ConversionError{Archive: src.Name, Reason: reason, Err: runErr}
}

// stagedOutputs lists the regular, non-empty files the converter wrote under
// workDir, sorted by path. readpst emits one file per mail folder (nested
// directories for subfolders), so a single archive commonly yields several.
func stagedOutputs(workDir string) ([]string, error) {
	var outputs []string
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && info.Size() > 0 {
			outputs = append(outputs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(outputs)
	return outputs, nil
}

// assembleMbox concatenates the staged files into dst in sorted path order.
// A single output is renamed rather than copied. Files are glued with a
// newline when needed so every "From " separator stays at a line start.
func assembleMbox(outputs []string, dst string) error {
	if len(outputs) == 1 {
		return os.Rename(outputs[0], dst)
	}

	out, err := fileutil.SecureOpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	for _, src := range outputs {
		endedWithNewline, err := appendFile(out, src)
		if err == nil && !endedWithNewline {
			_, err = out.Write([]byte("\n"))
		}
		if err != nil {
			out.Close()
			return fmt.Errorf("copy %s: %w", src, err)
		}
	}
	return out.Close()
}

func appendFile(out *os.File, path string) (endedWithNewline bool, err error) {
	in, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer in.Close()

	var last byte
	buf := make([]byte, 64<<10)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			last = buf[n-1]
			if _, err := out.Write(buf[:n]); err != nil {
				return false, err
			}
		}
		if readErr == io.EOF {
			return last == '\n', nil
		}
		if readErr != nil {
			return false, readErr
		}
	}
}

func validateMbox(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return mbox.Validate(f, validateBytes)
}
