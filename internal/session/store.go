package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/moznion/go-optional"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
	"gopkg.in/yaml.v3"
)

// Store persists the bearer token across restarts.
type Store interface {
	Save(cred model.Credential) error
	Load() (optional.Option[model.Credential], error)
	Clear() error
}

// TokenStore keeps the token in a small YAML file. The default layout is a
// single cleartext access_token key; with a passphrase the token is sealed
// with secretbox under an scrypt-derived key instead.
type TokenStore struct {
	path       string
	passphrase []byte
}

type tokenFile struct {
	AccessToken string `yaml:"access_token,omitempty"`
	SealedToken string `yaml:"sealed_token,omitempty"`
	Salt        string `yaml:"salt,omitempty"`
}

const (
	saltSize  = 16
	nonceSize = 24
)

var ErrSealed = errors.New("token file is sealed and no passphrase is configured")

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func NewSealedTokenStore(path, passphrase string) *TokenStore {
	return &TokenStore{path: path, passphrase: []byte(passphrase)}
}

func (s *TokenStore) Path() string { return s.path }

func (s *TokenStore) Sealed() bool { return len(s.passphrase) > 0 }

func (s *TokenStore) Save(cred model.Credential) error {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return errors.New("refusing to persist an empty token")
	}
	var f tokenFile
	if s.Sealed() {
		sealed, salt, err := s.seal([]byte(cred.AccessToken))
		if err != nil {
			return err
		}
		f.SealedToken, f.Salt = sealed, salt
	} else {
		f.AccessToken = cred.AccessToken
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// Load returns None when no token has been persisted.
func (s *TokenStore) Load() (optional.Option[model.Credential], error) {
	none := optional.None[model.Credential]()
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return none, nil
		}
		return none, fmt.Errorf("stat token file: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return none, fmt.Errorf("read token file: %w", err)
	}
	var f tokenFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return none, fmt.Errorf("parse token file: %w", err)
	}
	token := f.AccessToken
	if f.SealedToken != "" {
		if !s.Sealed() {
			return none, ErrSealed
		}
		plain, err := s.open(f.SealedToken, f.Salt)
		if err != nil {
			return none, err
		}
		token = string(plain)
	}
	if strings.TrimSpace(token) == "" {
		return none, nil
	}
	return optional.Some(model.Credential{
		AccessToken: token,
		IssuedAt:    info.ModTime().UTC(),
		Source:      types.CredentialFromDisk,
	}), nil
}

func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (s *TokenStore) seal(plain []byte) (string, string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	key, err := s.key(salt)
	if err != nil {
		return "", "", err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", "", err
	}
	box := secretbox.Seal(nonce[:], plain, &nonce, key)
	return base64.StdEncoding.EncodeToString(box), base64.StdEncoding.EncodeToString(salt), nil
}

func (s *TokenStore) open(sealed, salt string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("token file is corrupt")
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, errors.New("token file is corrupt")
	}
	key, err := s.key(rawSalt)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, errors.New("token file could not be opened with the configured passphrase")
	}
	return plain, nil
}

func (s *TokenStore) key(salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key(s.passphrase, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
