// Package store keeps mapping profiles, replacement rules and the encrypted
// guardian list in the application's settings directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/insightdelivered/betreuung-xml/internal/models"
)

const (
	guardiansFile = "betreuten.dat"
	profilesFile  = "mappings.json"
	rulesFile     = "rules.json"
)

// Store reads and writes settings files below one directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the settings directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// NewID returns a fresh random identifier for a record.
func NewID() string { return uuid.NewString() }

// LoadProfiles returns the saved mapping profiles; none when the file does
// not exist yet.
func (s *Store) LoadProfiles() ([]models.MappingProfile, error) {
	var profiles []models.MappingProfile
	if err := s.readJSON(profilesFile, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// SaveProfiles replaces the saved mapping profiles.
func (s *Store) SaveProfiles(profiles []models.MappingProfile) error {
	return s.writeJSON(profilesFile, profiles)
}

// Profile looks up a saved mapping profile by id.
func (s *Store) Profile(id string) (models.MappingProfile, error) {
	profiles, err := s.LoadProfiles()
	if err != nil {
		return models.MappingProfile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return models.MappingProfile{}, fmt.Errorf("store: mapping profile %q: %w", id, fs.ErrNotExist)
}

// LoadRules returns the saved rules in their stored order.
func (s *Store) LoadRules() ([]models.Rule, error) {
	var rules []models.Rule
	if err := s.readJSON(rulesFile, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveRules replaces the saved rules. Order is preserved.
func (s *Store) SaveRules(rules []models.Rule) error {
	return s.writeJSON(rulesFile, rules)
}

// HasGuardians reports whether an encrypted guardian file exists.
func (s *Store) HasGuardians() bool {
	_, err := os.Stat(s.path(guardiansFile))
	return err == nil
}

// LoadGuardians decrypts the guardian list. A missing file yields an empty
// list; a wrong password yields ErrWrongPassword.
func (s *Store) LoadGuardians(password []byte) ([]models.Guardian, error) {
	data, err := os.ReadFile(s.path(guardiansFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read guardians: %w", err)
	}

	plain, err := Decrypt(string(data), password)
	if err != nil {
		return nil, err
	}
	var guardians []models.Guardian
	if err := json.Unmarshal(plain, &guardians); err != nil {
		return nil, fmt.Errorf("store: decode guardians: %w", err)
	}
	return guardians, nil
}

// SaveGuardians encrypts and stores the guardian list, assigning ids to
// guardians and accounts that have none.
func (s *Store) SaveGuardians(guardians []models.Guardian, password []byte) error {
	for i := range guardians {
		AssignIDs(&guardians[i])
	}
	plain, err := json.MarshalIndent(guardians, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode guardians: %w", err)
	}
	envelope, err := Encrypt(plain, password)
	if err != nil {
		return err
	}
	return s.writeFile(guardiansFile, []byte(envelope))
}

// Guardian returns the stored guardian with the given id.
func (s *Store) Guardian(id string, password []byte) (models.Guardian, error) {
	guardians, err := s.LoadGuardians(password)
	if err != nil {
		return models.Guardian{}, err
	}
	for _, g := range guardians {
		if g.ID == id {
			return g, nil
		}
	}
	return models.Guardian{}, fmt.Errorf("store: guardian %q: %w", id, fs.ErrNotExist)
}

// DeleteGuardians removes the encrypted guardian file, e.g. after a
// forgotten password.
func (s *Store) DeleteGuardians() error {
	err := os.Remove(s.path(guardiansFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete guardians: %w", err)
	}
	return nil
}

// AssignIDs fills in missing guardian and account ids.
func AssignIDs(g *models.Guardian) {
	if g.ID == "" {
		g.ID = NewID()
	}
	for i := range g.Accounts {
		if g.Accounts[i].ID == "" {
			g.Accounts[i].ID = NewID()
		}
	}
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	return s.writeFile(name, data)
}

// writeFile replaces name via a temporary file so a failed write never
// leaves a truncated settings file behind.
func (s *Store) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}
