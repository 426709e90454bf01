package identity

import (
	"encoding/hex"
	"encoding/json"

	"github.com/noisymesh/bitchat/crypto"
)

// favoritesStorageKey is the SecureStorage key the persisted favorites
// set is stored under.
const favoritesStorageKey = "favorites"

// LoadFavorites reads the persisted favorites set from store and applies
// it to c, marking each fingerprint favorite via SetFavorite. A missing
// key (first run, or a store that has never seen a favorite) is not an
// error.
func (c *Cache) LoadFavorites(store SecureStorage) error {
	raw, ok, err := store.Get(favoritesStorageKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var hexFps []string
	if err := json.Unmarshal(raw, &hexFps); err != nil {
		return err
	}
	for _, h := range hexFps {
		fp, err := fingerprintFromHex(h)
		if err != nil {
			continue
		}
		c.SetFavorite(fp, true)
	}
	return nil
}

// SaveFavorites persists c's current favorites set to store, overwriting
// whatever was there before.
func (c *Cache) SaveFavorites(store SecureStorage) error {
	favs := c.Favorites()
	hexFps := make([]string, len(favs))
	for i, fp := range favs {
		hexFps[i] = hex.EncodeToString(fp[:])
	}
	raw, err := json.Marshal(hexFps)
	if err != nil {
		return err
	}
	return store.Put(favoritesStorageKey, raw)
}

func fingerprintFromHex(s string) (crypto.Fingerprint, error) {
	var fp crypto.Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	if len(b) != len(fp) {
		return fp, ErrMalformedFingerprint
	}
	copy(fp[:], b)
	return fp, nil
}
