// Package atomicfile centralizes the write-temp-then-rename JSON pattern
// used by the Transcript Store, Job Registry, and Dedup Index, grounded on
// JobStatusManager.write_json_atomic in the original Python implementation.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteJSON marshals v and writes it to path atomically: write to a temp
// file in the same directory, fsync, then rename over path.
func WriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadJSON parses path into v. Callers that want read-or-default semantics
// should treat os.IsNotExist(err) specially; malformed content is returned
// as a decode error so callers can warn and fall back.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ReadJSONOrDefault reads path into v, returning ok=false (no error) when
// the file is missing or malformed, so callers can substitute a zero value
// exactly like the dedup index and status readers require.
func ReadJSONOrDefault(path string, v interface{}) (ok bool) {
	if err := ReadJSON(path, v); err != nil {
		return false
	}
	return true
}
