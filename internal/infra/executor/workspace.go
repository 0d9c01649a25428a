// Package executor holds the pieces shared by sandbox backends: the per-run
// workspace, bounded output capture, exit classification and the worker pool.
package executor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

const (
	dataDirName    = "data"
	scratchDirName = "scratch"
	programDirName = "program"
	programFile    = "main.py"
)

// ErrArtifactTooLarge is returned by ReadArtifact when the output file
// exceeds its cap.
var ErrArtifactTooLarge = errors.New("output file exceeds size limit")

// Workspace is the private directory tree of one sandbox run:
//
//	<root>/data/      attachments, read-only
//	<root>/scratch/   the only writable place; output.json lands here
//	<root>/program/   main.py, read-only
type Workspace struct {
	Root        string
	DataDir     string
	ScratchDir  string
	ProgramDir  string
	ProgramPath string
	OutputPath  string
}

// NewWorkspace stages prog and the attachments under a fresh directory in
// base. On error nothing is left behind.
func NewWorkspace(base, runID string, prog analysis.Program, atts []analysis.Attachment, blobs analysis.BlobSource) (ws *Workspace, err error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox base dir: %w", err)
	}
	root, err := os.MkdirTemp(base, "run-"+safePrefix(runID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws = &Workspace{
		Root:       root,
		DataDir:    filepath.Join(root, dataDirName),
		ScratchDir: filepath.Join(root, scratchDirName),
		ProgramDir: filepath.Join(root, programDirName),
	}
	ws.ProgramPath = filepath.Join(ws.ProgramDir, programFile)
	ws.OutputPath = filepath.Join(ws.ScratchDir, analysis.OutputFile)
	defer func() {
		if err != nil {
			_ = ws.Cleanup()
			ws = nil
		}
	}()

	for _, dir := range []string{ws.DataDir, ws.ScratchDir, ws.ProgramDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return ws, fmt.Errorf("create %s: %w", filepath.Base(dir), err)
		}
	}

	for _, a := range atts {
		if a.Name == "" || a.Name != filepath.Base(a.Name) || strings.HasPrefix(a.Name, ".") {
			return ws, fmt.Errorf("attachment name %q is not a plain file name", a.Name)
		}
		b, err := blobs.Blob(a.Digest)
		if err != nil {
			return ws, fmt.Errorf("stage %s: %w", a.Name, err)
		}
		if err := os.WriteFile(filepath.Join(ws.DataDir, a.Name), b, 0o444); err != nil {
			return ws, fmt.Errorf("stage %s: %w", a.Name, err)
		}
	}
	if err := os.WriteFile(ws.ProgramPath, []byte(prog.Source), 0o444); err != nil {
		return ws, fmt.Errorf("write program: %w", err)
	}

	// WriteFile and Mkdir are subject to umask; set the final modes explicitly.
	modes := []struct {
		path string
		mode fs.FileMode
	}{
		{ws.DataDir, 0o555},
		{ws.ProgramDir, 0o555},
		{ws.ScratchDir, 0o777},
	}
	for _, m := range modes {
		if err := os.Chmod(m.path, m.mode); err != nil {
			return ws, fmt.Errorf("chmod %s: %w", filepath.Base(m.path), err)
		}
	}
	return ws, nil
}

// Env returns the output convention variables for the given in-sandbox paths.
func Env(dataDir, scratchDir string) []string {
	return []string{
		analysis.EnvDataDir + "=" + dataDir,
		analysis.EnvScratchDir + "=" + scratchDir,
		analysis.EnvOutput + "=" + filepath.ToSlash(filepath.Join(scratchDir, analysis.OutputFile)),
	}
}

// ReadArtifact returns the output file. A missing file is not an error
// (present is false). Symlinks and non-regular files are not followed.
func (w *Workspace) ReadArtifact(max int64) (data []byte, present bool, err error) {
	if max <= 0 {
		max = analysis.DefaultMaxArtifactBytes
	}
	fi, err := os.Lstat(w.OutputPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !fi.Mode().IsRegular() {
		return nil, false, fmt.Errorf("%s is not a regular file", analysis.OutputFile)
	}
	if fi.Size() > max {
		return nil, false, fmt.Errorf("%w: %d bytes, limit %d", ErrArtifactTooLarge, fi.Size(), max)
	}
	f, err := os.Open(w.OutputPath)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	data, err = io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > max {
		return nil, false, fmt.Errorf("%w: limit %d", ErrArtifactTooLarge, max)
	}
	return data, true, nil
}

// Cleanup restores write permission on the tree and removes it. Safe to call
// more than once.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Root == "" {
		return nil
	}
	_ = filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0o755)
		}
		return nil
	})
	return os.RemoveAll(w.Root)
}

func safePrefix(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= 12 {
			break
		}
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
