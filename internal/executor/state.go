package executor

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/wireit-go/internal/fsutil"
	"github.com/google/wireit-go/internal/globs"
)

const (
	fingerprintFileName = "fingerprint"
	manifestFileName    = "manifest"
	stdoutFileName      = "stdout"
	stderrFileName      = "stderr"
)

// outputManifest records, for every file an output glob matched after a
// successful run, enough metadata to notice if it was tampered with
// out-of-band before the next run.
type outputManifest struct {
	Entries map[string]manifestEntry `json:"entries"`
}

type manifestEntry struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"modTime"`
	Mode    uint32 `json:"mode"`
}

func readFingerprint(stateDir string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(stateDir, fingerprintFileName))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// writeFingerprint persists the full canonical fingerprint JSON (not
// just its hash) so clean=if-file-deleted can later recover the exact
// input-file set the previous run observed.
func writeFingerprint(stateDir, canonicalJSON string) error {
	return fsutil.WriteFileAtomic(filepath.Join(stateDir, fingerprintFileName), []byte(canonicalJSON))
}

func captureManifest(packageDir string, outputPatterns []string) (*outputManifest, error) {
	m := &outputManifest{Entries: map[string]manifestEntry{}}
	if outputPatterns == nil {
		return m, nil
	}
	entries, err := globs.Match(packageDir, outputPatterns)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Kind != globs.File {
			continue
		}
		info, err := os.Lstat(filepath.Join(packageDir, e.RelPath))
		if err != nil {
			continue
		}
		m.Entries[e.RelPath] = manifestEntry{
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
			Mode:    uint32(info.Mode()),
		}
	}
	return m, nil
}

func readManifest(stateDir string) (*outputManifest, bool) {
	b, err := os.ReadFile(filepath.Join(stateDir, manifestFileName))
	if err != nil {
		return nil, false
	}
	var m outputManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func writeManifest(stateDir string, m *outputManifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(stateDir, manifestFileName), b)
}

// equal reports whether two manifests describe identical file sets. This
// check guards against output being modified or deleted out-of-band.
func (m *outputManifest) equal(other *outputManifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.Entries) != len(other.Entries) {
		return false
	}
	for k, v := range m.Entries {
		if ov, ok := other.Entries[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func clearPersistedRunState(stateDir string) error {
	for _, name := range []string{fingerprintFileName, manifestFileName, stdoutFileName, stderrFileName} {
		if err := os.Remove(filepath.Join(stateDir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// previousInputFiles reads the file list the last fingerprint covered,
// used by clean=if-file-deleted to decide whether the current input set
// is a superset of the prior one. The canonical fingerprint JSON is
// re-parsed rather than stored twice.
func previousInputFiles(canonicalJSON string) map[string]bool {
	var partial struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal([]byte(canonicalJSON), &partial); err != nil {
		return nil
	}
	out := make(map[string]bool, len(partial.Files))
	for k := range partial.Files {
		out[k] = true
	}
	return out
}

