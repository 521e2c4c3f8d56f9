package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

// SeedFile is the shape of a JSON seed: demo listings and clients for one
// or more accounts.
type SeedFile struct {
	Clients  []domain.Client  `json:"clients"`
	Listings []domain.Listing `json:"listings"`
}

// LoadSeedFile reads and validates a seed JSON file.
func LoadSeedFile(path string) (SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(b, &seed); err != nil {
		return SeedFile{}, fmt.Errorf("unmarshal seed file: %w", err)
	}
	for i, c := range seed.Clients {
		if err := c.Validate(); err != nil {
			return SeedFile{}, fmt.Errorf("seed client %d: %w", i, err)
		}
	}
	for i, l := range seed.Listings {
		if err := l.Validate(); err != nil {
			return SeedFile{}, fmt.Errorf("seed listing %d: %w", i, err)
		}
	}
	return seed, nil
}

// Seed loads a seed file into the store. Listings already present by id are
// left alone; clients are inserted as-is.
func (s *Store) Seed(ctx context.Context, seed SeedFile) error {
	for _, c := range seed.Clients {
		if _, err := s.CreateClient(ctx, c); err != nil {
			return fmt.Errorf("seed client %s: %w", c.Name, err)
		}
	}
	if err := s.UpsertListings(ctx, seed.Listings); err != nil {
		return fmt.Errorf("seed listings: %w", err)
	}
	return nil
}
