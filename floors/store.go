package floors

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// auctionStore is the process-wide table of per-auction floor datasets, keyed
// by auction id. Entries live until the auction-ended signal, then for one
// grace period more so late-arriving responses can still be floored.
type auctionStore struct {
	entries *cache.Cache
	grace   time.Duration
}

func newAuctionStore(grace time.Duration) *auctionStore {
	cleanup := grace
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &auctionStore{
		entries: cache.New(cache.NoExpiration, cleanup),
		grace:   grace,
	}
}

func (s *auctionStore) Save(data *AuctionFloorData) {
	s.entries.Set(data.AuctionID, data, cache.NoExpiration)
}

// Get returns the dataset for an auction, or nil when it never existed or has
// been evicted. Missing data means "no floor", never an error.
func (s *auctionStore) Get(auctionID string) *AuctionFloorData {
	if entry, found := s.entries.Get(auctionID); found {
		return entry.(*AuctionFloorData)
	}
	return nil
}

// AuctionEnded rearms the entry with the grace TTL instead of deleting it.
func (s *auctionStore) AuctionEnded(auctionID string) {
	if entry, found := s.entries.Get(auctionID); found {
		s.entries.Set(auctionID, entry, s.grace)
	}
}

func (s *auctionStore) Flush() {
	s.entries.Flush()
}
