// Package identitystore is the durable local store for the device identity:
// wrapped seed keys, integrity fingerprints, customer profiles and a small
// key-value layer for session flags, each keyed by customer id.
//
// All access is serialized behind one mutex so a wipe can never interleave
// with a put. Persistence is an encrypted snapshot written atomically; with
// an empty path the store runs purely in memory, which is what the tests and
// the soft-token demo use.
package identitystore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"arcbank/device-core/internal/securestore"
	"arcbank/device-core/pkg/models"
)

// Schema bumps are additive only: new namespaces may be introduced, existing
// ones are never re-shaped destructively.
const currentSchemaVersion = 2

var (
	ErrNotFound = errors.New("identity store: record not found")
	ErrClosed   = errors.New("identity store: not open")
	ErrSchema   = errors.New("identity store: unsupported schema")
)

type Store struct {
	mu     sync.Mutex
	path   string
	secret string
	open   bool
	state  snapshot
}

type snapshot struct {
	SchemaVersion int                                 `json:"schema_version"`
	Identities    map[string]models.DeviceIdentity    `json:"identities"`
	Fingerprints  map[string]models.DeviceFingerprint `json:"fingerprints"`
	Profiles      map[string]models.CustomerProfile   `json:"profiles"`
	Flags         map[string]string                   `json:"flags,omitempty"`
}

// New creates a store backed by an encrypted file. Open must be called before
// any other operation.
func New(path, secret string) *Store {
	return &Store{
		path:   strings.TrimSpace(path),
		secret: strings.TrimSpace(secret),
	}
}

// NewMemory creates a non-persistent store for tests and dry runs.
func NewMemory() *Store {
	s := &Store{}
	s.state = emptySnapshot()
	s.open = true
	return s
}

func emptySnapshot() snapshot {
	return snapshot{
		SchemaVersion: currentSchemaVersion,
		Identities:    make(map[string]models.DeviceIdentity),
		Fingerprints:  make(map[string]models.DeviceFingerprint),
		Profiles:      make(map[string]models.CustomerProfile),
		Flags:         make(map[string]string),
	}
}

// Open loads the snapshot from disk, creating an empty schema when the file
// does not exist yet.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	if s.path == "" {
		s.state = emptySnapshot()
		s.open = true
		return nil
	}
	raw, err := securestore.ReadEncryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.state = emptySnapshot()
			s.open = true
			return s.persistLocked()
		}
		return err
	}
	var state snapshot
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	if state.SchemaVersion < 1 || state.SchemaVersion > currentSchemaVersion {
		return ErrSchema
	}
	migrateLocked(&state)
	s.state = state
	s.open = true
	return nil
}

// migrateLocked applies additive upgrades. v1 predates the flags namespace.
func migrateLocked(state *snapshot) {
	if state.Identities == nil {
		state.Identities = make(map[string]models.DeviceIdentity)
	}
	if state.Fingerprints == nil {
		state.Fingerprints = make(map[string]models.DeviceFingerprint)
	}
	if state.Profiles == nil {
		state.Profiles = make(map[string]models.CustomerProfile)
	}
	if state.Flags == nil {
		state.Flags = make(map[string]string)
	}
	state.SchemaVersion = currentSchemaVersion
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}

// PutIdentity upserts the device identity for its customer id. The whole
// record becomes visible atomically or not at all.
func (s *Store) PutIdentity(identity models.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	next := s.cloneStateLocked()
	next.Identities[identity.CustomerID] = cloneIdentity(identity)
	return s.commitLocked(next)
}

func (s *Store) GetIdentity(customerID string) (models.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return models.DeviceIdentity{}, ErrClosed
	}
	identity, ok := s.state.Identities[customerID]
	if !ok {
		return models.DeviceIdentity{}, ErrNotFound
	}
	return cloneIdentity(identity), nil
}

// PutFingerprint overwrites the single fingerprint held for the customer.
// Fingerprints are replaced, never appended.
func (s *Store) PutFingerprint(customerID string, fp models.DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	next := s.cloneStateLocked()
	next.Fingerprints[customerID] = fp
	return s.commitLocked(next)
}

func (s *Store) GetFingerprint(customerID string) (models.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return models.DeviceFingerprint{}, ErrClosed
	}
	fp, ok := s.state.Fingerprints[customerID]
	if !ok {
		return models.DeviceFingerprint{}, ErrNotFound
	}
	return fp, nil
}

func (s *Store) PutProfile(profile models.CustomerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	profile.UpdatedAt = time.Now().UTC()
	next := s.cloneStateLocked()
	next.Profiles[profile.CustomerID] = profile
	return s.commitLocked(next)
}

func (s *Store) GetProfile(customerID string) (models.CustomerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return models.CustomerProfile{}, ErrClosed
	}
	profile, ok := s.state.Profiles[customerID]
	if !ok {
		return models.CustomerProfile{}, ErrNotFound
	}
	return profile, nil
}

func (s *Store) SetFlag(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	next := s.cloneStateLocked()
	next.Flags[key] = value
	return s.commitLocked(next)
}

func (s *Store) GetFlag(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return "", false
	}
	v, ok := s.state.Flags[key]
	return v, ok
}

// CustomerIDs lists every customer with a stored identity, sorted.
func (s *Store) CustomerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.state.Identities))
	for id := range s.state.Identities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// WipeAll destroys every namespace and recreates the empty schema. The file
// is removed first so a crash between remove and rewrite still reads as an
// empty store on next open, never as half-present data.
func (s *Store) WipeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	s.state = emptySnapshot()
	return s.persistLocked()
}

// Empty reports whether no namespace holds any record.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Identities) == 0 &&
		len(s.state.Fingerprints) == 0 &&
		len(s.state.Profiles) == 0 &&
		len(s.state.Flags) == 0
}

// commitLocked persists the candidate state and only then makes it visible.
func (s *Store) commitLocked(next snapshot) error {
	prev := s.state
	s.state = next
	if err := s.persistLocked(); err != nil {
		s.state = prev
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	payload, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return securestore.WriteEncryptedFile(s.path, s.secret, payload)
}

func (s *Store) cloneStateLocked() snapshot {
	next := emptySnapshot()
	for k, v := range s.state.Identities {
		next.Identities[k] = cloneIdentity(v)
	}
	for k, v := range s.state.Fingerprints {
		next.Fingerprints[k] = v
	}
	for k, v := range s.state.Profiles {
		next.Profiles[k] = v
	}
	for k, v := range s.state.Flags {
		next.Flags[k] = v
	}
	return next
}

func cloneIdentity(identity models.DeviceIdentity) models.DeviceIdentity {
	out := identity
	out.SeedPublicKey = append([]byte(nil), identity.SeedPublicKey...)
	out.CredentialID = append([]byte(nil), identity.CredentialID...)
	out.WrappedSeedPrivate = models.WrappedKey{
		InitializationVector: append([]byte(nil), identity.WrappedSeedPrivate.InitializationVector...),
		Ciphertext:           append([]byte(nil), identity.WrappedSeedPrivate.Ciphertext...),
	}
	return out
}
