// Command bitchatd runs one Core Engine node: it loads or generates a
// node identity, wires whichever transports the flags request into a
// Supervisor, and blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/noisymesh/bitchat/crypto"
	"github.com/noisymesh/bitchat/engine"
	"github.com/noisymesh/bitchat/identity"
	"github.com/noisymesh/bitchat/supervisor"
	"github.com/noisymesh/bitchat/transport/ble"
	"github.com/noisymesh/bitchat/transport/nostr"
)

type logLevelFlag slog.Level

func fromLogLevel(l slog.Level) *logLevelFlag {
	f := logLevelFlag(l)
	return &f
}

func (f *logLevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *logLevelFlag) String() string {
	return (*slog.Level)(f).String()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app := &cli.App{
		Name:  "bitchatd",
		Usage: "run a BitChat mesh node",
		Flags: []cli.Flag{
			&cli.GenericFlag{
				Name:  "log-level",
				Usage: "Set the log level",
				Value: fromLogLevel(slog.LevelInfo),
			},
			&cli.StringFlag{
				Name:  "nickname",
				Usage: "Display name advertised in Announce packets",
				Value: "anon",
			},
			&cli.StringFlag{
				Name:  "identity-path",
				Usage: "File persisting this node's static identity keys",
				Value: "bitchatd-identity.json",
			},
			&cli.IntFlag{
				Name:  "mtu",
				Usage: "Wire packet MTU before fragmentation kicks in",
				Value: engine.DefaultConfig().MTU,
			},
			&cli.StringFlag{
				Name:  "nostr-relay",
				Usage: "Websocket URL of a Nostr relay to use as a transport; empty disables it",
			},
			&cli.BoolFlag{
				Name:  "ble",
				Usage: "Register the BLE mesh transport (no-op without a platform backend)",
			},
			&cli.StringFlag{
				Name:    "identity-passphrase",
				Usage:   "Passphrase encrypting the identity file at rest; empty stores it in plaintext",
				EnvVars: []string{"BITCHATD_IDENTITY_PASSPHRASE"},
			},
		},
		Before: func(c *cli.Context) error {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: (*slog.Level)(c.Generic("log-level").(*logLevelFlag)),
			}))
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("bitchatd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context, logger *slog.Logger) error {
	store, err := newFileStorage(c.String("identity-path"), c.String("identity-passphrase"))
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}

	staticKey, signing, err := loadOrCreateIdentity(store)
	if err != nil {
		return fmt.Errorf("failed to load or create identity: %w", err)
	}

	cfg := engine.DefaultConfig()
	cfg.Nickname = c.String("nickname")
	if mtu := c.Int("mtu"); mtu > 0 {
		cfg.MTU = mtu
	}

	e := engine.NewEngine(cfg, *staticKey, signing, crypto.DefaultRNG, logger)
	logger.Info("node identity ready", "peer_id", fmt.Sprintf("%x", e.Self()))
	if err := e.SetFavoritesStore(store); err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}

	inbox := engine.NewInbox(cfg)
	sup := supervisor.New(e, inbox, supervisor.DefaultRetryPolicy(), logger)

	if relayURL := c.String("nostr-relay"); relayURL != "" {
		sup.AddTransport(nostr.New(nostr.Config{RelayURL: relayURL, Self: e.Self()}))
	}
	if c.Bool("ble") {
		sup.AddTransport(ble.New())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-term
		logger.Info("received signal, shutting down")
		cancel()
	}()

	return sup.Run(ctx)
}

func loadOrCreateIdentity(store identity.SecureStorage) (*crypto.X25519KeyPair, *crypto.SigningKeyPair, error) {
	if raw, ok, err := store.Get("static-x25519"); err != nil {
		return nil, nil, err
	} else if ok {
		staticKey := &crypto.X25519KeyPair{}
		if err := json.Unmarshal(raw, staticKey); err != nil {
			return nil, nil, fmt.Errorf("corrupt identity file: %w", err)
		}
		signingRaw, ok, err := store.Get("signing")
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("identity file missing signing key")
		}
		signing := &crypto.SigningKeyPair{}
		if err := json.Unmarshal(signingRaw, signing); err != nil {
			return nil, nil, fmt.Errorf("corrupt identity file: %w", err)
		}
		return staticKey, signing, nil
	}

	staticKey, err := crypto.GenerateX25519KeyPair(crypto.DefaultRNG)
	if err != nil {
		return nil, nil, err
	}
	signing, err := crypto.GenerateSigningKeyPair(crypto.DefaultRNG)
	if err != nil {
		return nil, nil, err
	}

	staticRaw, err := json.Marshal(staticKey)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Put("static-x25519", staticRaw); err != nil {
		return nil, nil, err
	}
	signingRaw, err := json.Marshal(signing)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Put("signing", signingRaw); err != nil {
		return nil, nil, err
	}
	return staticKey, signing, nil
}

// fileStorage is the identity.SecureStorage implementation bitchatd plugs
// in as the "embedder" the identity package's doc comment expects: one
// JSON document on disk, keyed the same way identity.MemoryStorage is,
// but durable across restarts. When constructed with a passphrase, every
// entry is sealed with ChaCha20-Poly1305 under a key stretched from that
// passphrase via Argon2id, so a stolen identity file is useless without
// it; the salt the KDF needs travels alongside the entries in the same
// document so the passphrase alone is enough to reopen it later.
type fileStorage struct {
	path string
	aead cipher.AEAD // nil: entries are stored as plaintext
	salt []byte
}

type fileDoc struct {
	Salt    []byte            `json:"salt,omitempty"`
	Entries map[string]string `json:"entries"`
}

// newFileStorage opens path, deriving an AEAD from passphrase if one is
// given. The salt is read from an existing document when present, so an
// encrypted store stays readable across restarts; a fresh one mints a
// random salt that is persisted on the first write.
func newFileStorage(path, passphrase string) (*fileStorage, error) {
	f := &fileStorage{path: path}
	if passphrase == "" {
		return f, nil
	}

	doc, err := f.loadDoc()
	if err != nil {
		return nil, err
	}
	salt := doc.Salt
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	f.aead = aead
	f.salt = salt
	return f, nil
}

func (f *fileStorage) loadDoc() (fileDoc, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return fileDoc{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return fileDoc{}, err
	}
	doc := fileDoc{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fileDoc{}, err
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (f *fileStorage) saveDoc(doc fileDoc) error {
	doc.Salt = f.salt
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *fileStorage) seal(plaintext []byte) (string, error) {
	if f.aead == nil {
		return string(plaintext), nil
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := f.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (f *fileStorage) open(stored string) ([]byte, error) {
	if f.aead == nil {
		return []byte(stored), nil
	}
	sealed, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, err
	}
	n := f.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("identity entry shorter than nonce")
	}
	return f.aead.Open(nil, sealed[:n], sealed[n:], nil)
}

func (f *fileStorage) Put(key string, data []byte) error {
	doc, err := f.loadDoc()
	if err != nil {
		return err
	}
	stored, err := f.seal(data)
	if err != nil {
		return err
	}
	doc.Entries[key] = stored
	return f.saveDoc(doc)
}

func (f *fileStorage) Get(key string) ([]byte, bool, error) {
	doc, err := f.loadDoc()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc.Entries[key]
	if !ok {
		return nil, false, nil
	}
	data, err := f.open(v)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt %q: %w", key, err)
	}
	return data, true, nil
}

func (f *fileStorage) Delete(key string) error {
	doc, err := f.loadDoc()
	if err != nil {
		return err
	}
	delete(doc.Entries, key)
	return f.saveDoc(doc)
}

func (f *fileStorage) ListKeys() ([]string, error) {
	doc, err := f.loadDoc()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc.Entries))
	for k := range doc.Entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fileStorage) ClearAll() error {
	return os.Remove(f.path)
}

func (f *fileStorage) IsAvailable() bool { return true }

var _ identity.SecureStorage = (*fileStorage)(nil)
