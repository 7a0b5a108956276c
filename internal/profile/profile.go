// Package profile loads the game-profile definition file.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

// EntryError is a rejected profile entry. The rest of the file still loads.
type EntryError struct {
	Index int
	ID    string
	Err   error
}

func (e *EntryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("profile %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("profile %d: %v", e.Index, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ErrNoProfiles is returned when no entry survives validation.
var ErrNoProfiles = errors.New("no valid game profiles")

// Set is the loaded, validated profiles keyed by id.
type Set struct {
	Profiles []*model.GameProfile
	byID     map[string]*model.GameProfile
}

// Get returns the profile with the given id.
func (s *Set) Get(id string) (*model.GameProfile, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// MatchWindow returns the first profile whose window matcher accepts the
// foreground window, or nil.
func (s *Set) MatchWindow(title, exe string) *model.GameProfile {
	for _, p := range s.Profiles {
		if p.MatchesWindow(title, exe) {
			return p
		}
	}
	return nil
}

// LoadFile reads and parses the profile file at path.
func LoadFile(path string) (*Set, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading profiles: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON array of profiles. Entries that fail to decode or
// validate are returned as *EntryError values in rejected; the document
// itself must be a JSON array and at least one entry must be valid.
func Parse(data []byte) (set *Set, rejected []error, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing profiles: %w", err)
	}

	set = &Set{byID: make(map[string]*model.GameProfile)}
	for i, entry := range raw {
		var g model.GameProfile
		if err := json.Unmarshal(entry, &g); err != nil {
			rejected = append(rejected, &EntryError{Index: i, Err: err})
			continue
		}
		if err := model.ValidateProfile(&g); err != nil {
			rejected = append(rejected, &EntryError{Index: i, ID: g.ID, Err: err})
			continue
		}
		if _, dup := set.byID[g.ID]; dup {
			rejected = append(rejected, &EntryError{Index: i, ID: g.ID, Err: errors.New("duplicate id")})
			continue
		}
		if g.Detection.Format == "" && g.Detection.Type == model.DetectionLog {
			g.Detection.Format = model.LogFormatLines
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		p := &g
		set.Profiles = append(set.Profiles, p)
		set.byID[g.ID] = p
	}
	if len(set.Profiles) == 0 {
		return nil, rejected, ErrNoProfiles
	}
	return set, rejected, nil
}
