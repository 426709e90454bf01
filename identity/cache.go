package identity

import (
	"container/list"
	"time"

	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/wire"
)

// CryptographicIdentity is everything the node has authenticated about a
// peer's static key.
type CryptographicIdentity struct {
	Fingerprint   crypto.Fingerprint
	PeerID        wire.PeerID
	LastHandshake time.Time
}

// SocialIdentity is the locally-assigned, human-facing metadata attached
// to a fingerprint: a nickname the peer claimed, an optional local
// petname overriding it, and favorite/blocked flags.
type SocialIdentity struct {
	Fingerprint     crypto.Fingerprint
	ClaimedNickname string
	LocalPetname    string
	IsFavorite      bool
	IsBlocked       bool
}

// DisplayName returns the local petname if set, else the claimed
// nickname, else an empty string.
func (s SocialIdentity) DisplayName() string {
	if s.LocalPetname != "" {
		return s.LocalPetname
	}
	return s.ClaimedNickname
}

// Stats mirrors original_source's IdentityCacheStats.
type Stats struct {
	TotalCryptographicIdentities int
	TotalSocialIdentities        int
	TotalVerified                int
	TotalFavorites               int
	TotalBlocked                 int
}

type lruEntry struct {
	fingerprint crypto.Fingerprint
	elem        *list.Element
}

// Cache is the in-memory identity cache for every peer the node has ever
// authenticated: cryptographic identities, social identities, and the
// verified set, bounded by a last-seen LRU so a long-running node does
// not retain unbounded identity state.
type Cache struct {
	maxEntries int

	cryptographic map[crypto.Fingerprint]CryptographicIdentity
	social        map[crypto.Fingerprint]SocialIdentity
	verified      map[crypto.Fingerprint]struct{}
	byPeer        map[wire.PeerID]crypto.Fingerprint

	lru     *list.List // of crypto.Fingerprint, least-recently-seen at front
	lruElem map[crypto.Fingerprint]*list.Element
}

// NewCache constructs an empty Cache bounded to maxEntries cryptographic
// identities. A non-positive maxEntries disables the bound.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		maxEntries:    maxEntries,
		cryptographic: make(map[crypto.Fingerprint]CryptographicIdentity),
		social:        make(map[crypto.Fingerprint]SocialIdentity),
		verified:      make(map[crypto.Fingerprint]struct{}),
		byPeer:        make(map[wire.PeerID]crypto.Fingerprint),
		lru:           list.New(),
		lruElem:       make(map[crypto.Fingerprint]*list.Element),
	}
}

// UpsertCryptographicIdentity inserts or updates a peer's cryptographic
// identity, marking it as just-seen for LRU purposes.
func (c *Cache) UpsertCryptographicIdentity(id CryptographicIdentity) {
	c.cryptographic[id.Fingerprint] = id
	c.byPeer[id.PeerID] = id.Fingerprint
	c.touch(id.Fingerprint)
	c.evictOverCapacity()
}

// FingerprintForPeer returns the fingerprint authenticated for peer's most
// recently upserted cryptographic identity, if any.
func (c *Cache) FingerprintForPeer(peer wire.PeerID) (crypto.Fingerprint, bool) {
	fp, ok := c.byPeer[peer]
	return fp, ok
}

// CryptographicIdentity returns the cached identity for fingerprint, if
// any, and marks it as just-seen.
func (c *Cache) CryptographicIdentity(fp crypto.Fingerprint) (CryptographicIdentity, bool) {
	id, ok := c.cryptographic[fp]
	if ok {
		c.touch(fp)
	}
	return id, ok
}

// UpsertSocialIdentity inserts or updates a peer's social identity.
func (c *Cache) UpsertSocialIdentity(s SocialIdentity) {
	c.social[s.Fingerprint] = s
}

// SocialIdentity returns the cached social identity for fingerprint.
func (c *Cache) SocialIdentity(fp crypto.Fingerprint) (SocialIdentity, bool) {
	s, ok := c.social[fp]
	return s, ok
}

// SetVerified marks fingerprint's out-of-band verification status.
func (c *Cache) SetVerified(fp crypto.Fingerprint, verified bool) {
	if verified {
		c.verified[fp] = struct{}{}
	} else {
		delete(c.verified, fp)
	}
}

// IsVerified reports whether fingerprint has been marked verified.
func (c *Cache) IsVerified(fp crypto.Fingerprint) bool {
	_, ok := c.verified[fp]
	return ok
}

// SetFavorite marks or unmarks fingerprint as a favorite, creating a bare
// social identity if one doesn't exist yet.
func (c *Cache) SetFavorite(fp crypto.Fingerprint, favorite bool) {
	s := c.social[fp]
	s.Fingerprint = fp
	s.IsFavorite = favorite
	c.social[fp] = s
}

// Favorites returns every fingerprint currently marked as a favorite.
func (c *Cache) Favorites() []crypto.Fingerprint {
	var out []crypto.Fingerprint
	for fp, s := range c.social {
		if s.IsFavorite {
			out = append(out, fp)
		}
	}
	return out
}

// FindByNickname returns the fingerprint whose local petname (preferred)
// or claimed nickname equals nickname.
func (c *Cache) FindByNickname(nickname string) (crypto.Fingerprint, bool) {
	for fp, s := range c.social {
		if s.DisplayName() == nickname {
			return fp, true
		}
	}
	return crypto.Fingerprint{}, false
}

// CleanupOldIdentities removes cryptographic identities not seen within
// maxAge (measured from now), except verified ones, then drops any
// social identity and verified-set entry left dangling without a
// corresponding cryptographic identity.
func (c *Cache) CleanupOldIdentities(maxAge time.Duration, now time.Time) {
	cutoff := now.Add(-maxAge)
	for fp, id := range c.cryptographic {
		if _, verified := c.verified[fp]; verified {
			continue
		}
		if id.LastHandshake.Before(cutoff) {
			c.removeLocked(fp)
		}
	}
	for fp := range c.social {
		if _, ok := c.cryptographic[fp]; !ok {
			delete(c.social, fp)
		}
	}
	for fp := range c.verified {
		if _, ok := c.cryptographic[fp]; !ok {
			delete(c.verified, fp)
		}
	}
}

// RemoveIdentity removes a fingerprint's cryptographic identity, social
// identity, and verified status entirely.
func (c *Cache) RemoveIdentity(fp crypto.Fingerprint) {
	c.removeLocked(fp)
	delete(c.social, fp)
	delete(c.verified, fp)
}

func (c *Cache) removeLocked(fp crypto.Fingerprint) {
	if id, ok := c.cryptographic[fp]; ok {
		delete(c.byPeer, id.PeerID)
	}
	delete(c.cryptographic, fp)
	if elem, ok := c.lruElem[fp]; ok {
		c.lru.Remove(elem)
		delete(c.lruElem, fp)
	}
}

func (c *Cache) touch(fp crypto.Fingerprint) {
	if elem, ok := c.lruElem[fp]; ok {
		c.lru.MoveToBack(elem)
		return
	}
	c.lruElem[fp] = c.lru.PushBack(fp)
}

func (c *Cache) evictOverCapacity() {
	if c.maxEntries <= 0 {
		return
	}
	// Verified identities are retained even under memory pressure: skip
	// past them in LRU order. skipped caps the scan to one full pass so
	// an all-verified table doesn't spin forever without evicting.
	skipped := 0
	for len(c.cryptographic) > c.maxEntries && skipped < c.lru.Len() {
		front := c.lru.Front()
		if front == nil {
			return
		}
		fp := front.Value.(crypto.Fingerprint)
		if _, verified := c.verified[fp]; verified {
			c.lru.MoveToBack(front)
			skipped++
			continue
		}
		c.removeLocked(fp)
		delete(c.social, fp)
		skipped = 0
	}
}

// Stats computes the cache's current statistics snapshot.
func (c *Cache) Stats() Stats {
	favorites, blocked := 0, 0
	for _, s := range c.social {
		if s.IsFavorite {
			favorites++
		}
		if s.IsBlocked {
			blocked++
		}
	}
	return Stats{
		TotalCryptographicIdentities: len(c.cryptographic),
		TotalSocialIdentities:        len(c.social),
		TotalVerified:                len(c.verified),
		TotalFavorites:               favorites,
		TotalBlocked:                 blocked,
	}
}
