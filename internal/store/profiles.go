package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// ErrInvalidProfiles is returned when a profiles document fails validation.
var ErrInvalidProfiles = errors.New("store: invalid profiles document")

const (
	maxProfileListItems = 64
	maxProfileItemChars = 256
)

// ProfileConfig is one named athlete profile.
type ProfileConfig struct {
	Goals              []string `json:"goals"`
	Constraints        []string `json:"constraints"`
	AvailableEquipment []string `json:"available_equipment"`
	AutoAnalyzeSports  []string `json:"auto_analyze_sports"`
}

// ProfilesDocument is the full contents of profiles.json.
type ProfilesDocument struct {
	ActiveProfile string                   `json:"active_profile"`
	Profiles      map[string]ProfileConfig `json:"profiles"`
}

// DefaultProfilesDocument is the built-in fallback used when profiles.json
// is missing or its keys are empty.
func DefaultProfilesDocument() ProfilesDocument {
	return ProfilesDocument{
		ActiveProfile: "default",
		Profiles: map[string]ProfileConfig{
			"default": {
				Goals:              []string{"General fitness"},
				Constraints:        []string{},
				AvailableEquipment: []string{"Bodyweight"},
				AutoAnalyzeSports:  []string{},
			},
		},
	}
}

// Validate checks the invariants required on every read and write:
// active_profile names a key in profiles, both are non-empty, and every
// list field is within the size bounds.
func (d ProfilesDocument) Validate() error {
	if d.ActiveProfile == "" {
		return fmt.Errorf("%w: active_profile is empty", ErrInvalidProfiles)
	}
	if len(d.Profiles) == 0 {
		return fmt.Errorf("%w: profiles is empty", ErrInvalidProfiles)
	}
	if _, ok := d.Profiles[d.ActiveProfile]; !ok {
		return fmt.Errorf("%w: active_profile %q not present in profiles", ErrInvalidProfiles, d.ActiveProfile)
	}
	for name, p := range d.Profiles {
		for _, field := range [][]string{p.Goals, p.Constraints, p.AvailableEquipment, p.AutoAnalyzeSports} {
			if len(field) > maxProfileListItems {
				return fmt.Errorf("%w: profile %q: list exceeds %d items", ErrInvalidProfiles, name, maxProfileListItems)
			}
			for _, item := range field {
				if item == "" {
					return fmt.Errorf("%w: profile %q: empty list item", ErrInvalidProfiles, name)
				}
				if len(item) > maxProfileItemChars {
					return fmt.Errorf("%w: profile %q: item exceeds %d chars", ErrInvalidProfiles, name, maxProfileItemChars)
				}
			}
		}
	}
	return nil
}

// LoadProfiles reads and validates profiles.json at path. If the file is
// missing, the built-in defaults are returned instead of an error.
func LoadProfiles(path string) (ProfilesDocument, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultProfilesDocument(), nil
	}
	if err != nil {
		return ProfilesDocument{}, fmt.Errorf("store: read profiles %s: %w", path, err)
	}

	var doc ProfilesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ProfilesDocument{}, fmt.Errorf("store: parse profiles %s: %w", path, err)
	}
	if len(doc.Profiles) == 0 {
		return DefaultProfilesDocument(), nil
	}
	if err := doc.Validate(); err != nil {
		return ProfilesDocument{}, err
	}
	return doc, nil
}

// ParseProfilesStrict decodes a profiles document rejecting any unknown
// top-level or per-profile key, then validates it. Used by the PUT
// endpoint, where the strict schema guards against silently-dropped typos.
func ParseProfilesStrict(data []byte) (ProfilesDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw struct {
		ActiveProfile string                     `json:"active_profile"`
		Profiles      map[string]json.RawMessage `json:"profiles"`
	}
	if err := dec.Decode(&raw); err != nil {
		return ProfilesDocument{}, fmt.Errorf("%w: %v", ErrInvalidProfiles, err)
	}

	doc := ProfilesDocument{
		ActiveProfile: raw.ActiveProfile,
		Profiles:      make(map[string]ProfileConfig, len(raw.Profiles)),
	}
	for name, msg := range raw.Profiles {
		pdec := json.NewDecoder(bytes.NewReader(msg))
		pdec.DisallowUnknownFields()
		var p ProfileConfig
		if err := pdec.Decode(&p); err != nil {
			return ProfilesDocument{}, fmt.Errorf("%w: profile %q: %v", ErrInvalidProfiles, name, err)
		}
		doc.Profiles[name] = p
	}

	if err := doc.Validate(); err != nil {
		return ProfilesDocument{}, err
	}
	return doc, nil
}

// SaveProfiles atomically rewrites profiles.json: write to a temp file,
// then rename over the target. On EBUSY/EXDEV (common on some container
// filesystems and cross-device renames) it falls back to a direct write.
func SaveProfiles(path string, doc ProfilesDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal profiles: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("store: write temp profiles: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) && (errno == syscall.EBUSY || errno == syscall.EXDEV) {
			if werr := os.WriteFile(path, data, 0o600); werr != nil {
				return fmt.Errorf("store: fallback write profiles: %w", werr)
			}
			os.Remove(tmpPath)
			return nil
		}
		return fmt.Errorf("store: rename profiles: %w", err)
	}
	return nil
}

// ProfilesPath joins a base directory with the standard profiles.json name.
func ProfilesPath(dir string) string {
	return filepath.Join(dir, "profiles.json")
}
