// Package confidential provides an in-process stand-in for the external
// confidential-computation service. Values are sealed with AES-256-GCM under
// a key derived from an operator secret; callers only ever hold opaque
// handles. Comparison and selection happen inside the service boundary, and
// decryption results are produced asynchronously through a request/poll
// protocol, mirroring the latency profile of a real coprocessor.
package confidential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mevflow/auctiond/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
)

type handleKind int

const (
	kindAmount handleKind = iota
	kindAddress
)

type sealedValue struct {
	kind       handleKind
	nonce      []byte
	ciphertext []byte
}

// Config holds service parameters.
type Config struct {
	// Secret is the operator-supplied sealing secret.
	Secret string
	// DecryptDelay is how long a decryption request stays pending before
	// its result becomes available. Zero means results are ready on the
	// next poll.
	DecryptDelay time.Duration
}

// Service implements domain.ConfidentialService.
type Service struct {
	aead  cipher.AEAD
	delay time.Duration

	mu      sync.Mutex
	sealed  map[domain.CipherHandle]sealedValue
	pending map[domain.CipherHandle]time.Time
	results map[domain.CipherHandle][]byte
}

// New creates a Service with a sealing key derived from cfg.Secret via
// PBKDF2-HMAC-SHA256 and a fresh random salt. The salt is not persisted:
// handles are only meaningful within one service lifetime, matching the
// single-epoch scope of the values they protect.
func New(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("confidential: sealing secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("confidential: generating salt: %w", err)
	}
	key := pbkdf2.Key([]byte(cfg.Secret), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("confidential: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("confidential: creating GCM: %w", err)
	}

	return &Service{
		aead:    aead,
		delay:   cfg.DecryptDelay,
		sealed:  make(map[domain.CipherHandle]sealedValue),
		pending: make(map[domain.CipherHandle]time.Time),
		results: make(map[domain.CipherHandle][]byte),
	}, nil
}

// EncryptAmount seals a bid amount and returns its handle.
func (s *Service) EncryptAmount(ctx context.Context, amount *big.Int) (domain.CipherHandle, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	return s.seal(kindAmount, amount.Bytes())
}

// EncryptAddress seals a bidder address and returns its handle.
func (s *Service) EncryptAddress(ctx context.Context, addr common.Address) (domain.CipherHandle, error) {
	return s.seal(kindAddress, addr.Bytes())
}

// SelectMax compares the amounts behind aAmt and bAmt without exposing
// either plaintext to the caller, and returns the handles of the larger
// amount and its paired owner. Ties keep the incumbent pair (a).
func (s *Service) SelectMax(ctx context.Context, aAmt, aOwner, bAmt, bOwner domain.CipherHandle) (domain.CipherHandle, domain.CipherHandle, error) {
	a, err := s.openAmount(aAmt)
	if err != nil {
		return "", "", err
	}
	b, err := s.openAmount(bAmt)
	if err != nil {
		return "", "", err
	}

	if b.Cmp(a) > 0 {
		return bAmt, bOwner, nil
	}
	return aAmt, aOwner, nil
}

// RequestDecrypt schedules asynchronous decryption of the given handles.
// Requesting an unknown handle is an error; requesting an already-pending or
// already-decrypted handle is a no-op.
func (s *Service) RequestDecrypt(ctx context.Context, handles ...domain.CipherHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := time.Now().Add(s.delay)
	for _, h := range handles {
		if _, ok := s.sealed[h]; !ok {
			return fmt.Errorf("confidential: request decrypt: handle %s: %w", h, domain.ErrNotFound)
		}
		if _, ok := s.results[h]; ok {
			continue
		}
		if _, ok := s.pending[h]; ok {
			continue
		}
		s.pending[h] = ready
	}
	return nil
}

// DecryptedAmount returns the plaintext amount behind h once its decryption
// request has completed.
func (s *Service) DecryptedAmount(ctx context.Context, h domain.CipherHandle) (*big.Int, bool, error) {
	plain, ready, err := s.poll(h, kindAmount)
	if err != nil || !ready {
		return nil, false, err
	}
	return new(big.Int).SetBytes(plain), true, nil
}

// DecryptedAddress returns the plaintext address behind h once its decryption
// request has completed.
func (s *Service) DecryptedAddress(ctx context.Context, h domain.CipherHandle) (common.Address, bool, error) {
	plain, ready, err := s.poll(h, kindAddress)
	if err != nil || !ready {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(plain), true, nil
}

func (s *Service) seal(kind handleKind, plaintext []byte) (domain.CipherHandle, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("confidential: generating nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, plaintext, nil)

	h := domain.CipherHandle(uuid.New().String())
	s.mu.Lock()
	s.sealed[h] = sealedValue{kind: kind, nonce: nonce, ciphertext: ct}
	s.mu.Unlock()
	return h, nil
}

// openAmount decrypts inside the service boundary. The plaintext never
// crosses the API.
func (s *Service) openAmount(h domain.CipherHandle) (*big.Int, error) {
	s.mu.Lock()
	sv, ok := s.sealed[h]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("confidential: compare: handle %s: %w", h, domain.ErrNotFound)
	}
	if sv.kind != kindAmount {
		return nil, fmt.Errorf("confidential: compare: handle %s is not an amount", h)
	}
	plain, err := s.aead.Open(nil, sv.nonce, sv.ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("confidential: unseal %s: %w", h, err)
	}
	return new(big.Int).SetBytes(plain), nil
}

func (s *Service) poll(h domain.CipherHandle, kind handleKind) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, ok := s.sealed[h]
	if !ok {
		return nil, false, fmt.Errorf("confidential: poll: handle %s: %w", h, domain.ErrNotFound)
	}
	if sv.kind != kind {
		return nil, false, fmt.Errorf("confidential: poll: handle %s has wrong kind", h)
	}

	if plain, ok := s.results[h]; ok {
		return plain, true, nil
	}

	readyAt, requested := s.pending[h]
	if !requested || time.Now().Before(readyAt) {
		return nil, false, nil
	}

	plain, err := s.aead.Open(nil, sv.nonce, sv.ciphertext, nil)
	if err != nil {
		return nil, false, fmt.Errorf("confidential: unseal %s: %w", h, err)
	}
	delete(s.pending, h)
	s.results[h] = plain
	return plain, true, nil
}

var _ domain.ConfidentialService = (*Service)(nil)
