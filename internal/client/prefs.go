package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// Prefs is what the client remembers between runs.
type Prefs struct {
	Identity string `json:"identity"`
	Server   string `json:"server"`
	Location string `json:"location"`
}

func DefaultPrefsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "resolve config dir")
	}
	return filepath.Join(dir, "lahak", "prefs.json"), nil
}

// LoadPrefs reads saved preferences; a missing file is an empty Prefs, not
// an error.
func LoadPrefs(path string) (Prefs, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, pkgerrors.Wrap(err, "read prefs")
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return Prefs{}, pkgerrors.Wrapf(err, "parse prefs %s", path)
	}
	return p, nil
}

func (p Prefs) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(err, "create prefs dir")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "encode prefs")
	}
	return os.WriteFile(path, data, 0o600)
}
