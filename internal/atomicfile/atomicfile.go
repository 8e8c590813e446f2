// Package atomicfile provides the single write primitive every persisted
// JSON file in this module goes through: write to a temp path, then rename
// into place. The teacher hand-rolls this inline wherever it persists state
// (internal/projects/service.go: tmp := path+".tmp"; os.WriteFile; os.Rename);
// here it is centralised and backed by github.com/natefinch/atomic, the
// library used for the same purpose in the cagent example repo
// (pkg/userconfig/userconfig.go), so every caller gets the same crash-safety
// guarantee without repeating the temp-path bookkeeping.
package atomicfile

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/natefinch/atomic"
)

// SecretPerm is the permission mode for files containing secrets or
// lifecycle data, per the persisted-state-layout requirement that such
// files are owner-read/write only.
const SecretPerm = 0o600

// WriteJSON marshals v as indented JSON and atomically replaces path.
// The temp file (and therefore the renamed result) is created with perm.
func WriteJSON(path string, v any, perm os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return Write(path, b, perm)
}

// Write atomically replaces path with data, first creating it with perm so
// the rename target inherits owner-only permissions when requested.
func Write(path string, data []byte, perm os.FileMode) error {
	if err := touchWithPerm(path, perm); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// touchWithPerm ensures the destination exists with the requested
// permission bits before the atomic rename lands on it; atomic.WriteFile
// preserves an existing file's mode rather than setting one, and a file
// that does not exist yet is created by os.Rename with the temp file's
// mode, so we pre-create it explicitly for the secrets case.
func touchWithPerm(path string, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return os.Chmod(path, perm)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}
