package settlement

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

// Credential is the distributor signing identity. It may trigger distribution
// for any registered identifier but cannot change who gets paid.
type Credential struct {
	account string
	key     ed25519.PrivateKey
}

// NewCredential builds a credential from a hex-encoded 32-byte ed25519 seed.
func NewCredential(seedHex string) (Credential, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: decode seed: %w", domainerrors.ErrInvalidCredential, err)
	}
	if len(seed) != ed25519.SeedSize {
		return Credential{}, fmt.Errorf("%w: seed must be %d bytes", domainerrors.ErrInvalidCredential, ed25519.SeedSize)
	}
	key := ed25519.NewKeyFromSeed(seed)
	return Credential{
		account: hex.EncodeToString(key.Public().(ed25519.PublicKey)),
		key:     key,
	}, nil
}

// GenerateCredential creates a throwaway credential for local simulation.
func GenerateCredential() (Credential, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Credential{}, err
	}
	return Credential{account: hex.EncodeToString(public), key: private}, nil
}

func (c Credential) Account() string {
	return c.account
}

func (c Credential) Sign(submission ports.DistributeSubmission) []byte {
	return ed25519.Sign(c.key, SigningPayload(submission))
}

func SigningPayload(submission ports.DistributeSubmission) []byte {
	return []byte(strings.Join([]string{
		"distribute",
		submission.Source,
		strconv.FormatInt(submission.Sequence, 10),
		submission.Identifier,
		submission.Asset,
		strconv.FormatInt(submission.MinDistribution, 10),
	}, "|"))
}

// VerifySubmission checks that the submission was signed by its source account.
func VerifySubmission(submission ports.DistributeSubmission) bool {
	public, err := hex.DecodeString(submission.Source)
	if err != nil || len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), SigningPayload(submission), submission.Signature)
}
