package store

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML fixture format used to populate a MemoryStore in local
// mode:
//
//	users:
//	  - id: alice
//	    username: alice
//	conversations:
//	  - id: c1
//	    participants: [alice, bob]
//	groups:
//	  - id: g1
//	    name: team
//	    members: [alice, bob, carol]
type Seed struct {
	Users         []User         `yaml:"users"`
	Conversations []Conversation `yaml:"conversations"`
	Groups        []Group        `yaml:"groups"`
}

// ReadSeed decodes a seed fixture.
func ReadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	for _, c := range seed.Conversations {
		if c.ID == "" || c.ParticipantIDs[0] == "" || c.ParticipantIDs[1] == "" {
			return nil, fmt.Errorf("conversation %q needs an id and two participants", c.ID)
		}
	}
	for _, g := range seed.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("group %q needs an id", g.Name)
		}
	}
	return &seed, nil
}

// LoadSeedFile reads a seed fixture from disk into s.
func (s *MemoryStore) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	seed, err := ReadSeed(f)
	if err != nil {
		return err
	}
	s.Apply(seed)
	return nil
}

// Apply inserts every entity of the seed.
func (s *MemoryStore) Apply(seed *Seed) {
	for _, u := range seed.Users {
		s.PutUser(u)
	}
	for _, c := range seed.Conversations {
		s.PutConversation(c)
	}
	for _, g := range seed.Groups {
		s.PutGroup(g)
	}
}
