package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/whetherfun/weathermark/internal/domain"
)

// attestationPrefix domain-separates settlement attestations from any other
// message the operator key might ever sign.
var attestationPrefix = []byte("weathermark/settlement/v1")

// Signer signs settlement attestations with the operator's secp256k1 key.
// The attestation binds a market id to the oracle data it settled on, so
// downstream consumers can verify a settlement came from this operator.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, with
// or without the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the operator address derived from the signing key.
func (s *Signer) Address() string {
	return strings.ToLower(s.address.Hex())
}

// SignSettlement signs the attestation digest for a settled market. The
// returned signature is hex-encoded r||s||v, 65 bytes.
func (s *Signer) SignSettlement(marketID string, key domain.ReportKey, value int64, outcome bool) (string, error) {
	digest := attestationDigest(marketID, key, value, outcome)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSettlementSigner returns the address that produced the given
// settlement attestation signature.
func RecoverSettlementSigner(marketID string, key domain.ReportKey, value int64, outcome bool, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto/signer: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto/signer: signature length %d, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig = append(append([]byte(nil), sig[:64]...), sig[64]-27)
	}

	digest := attestationDigest(marketID, key, value, outcome)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: recovering signer: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

func attestationDigest(marketID string, key domain.ReportKey, value int64, outcome bool) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, attestationPrefix...)
	buf = append(buf, []byte(marketID)...)
	buf = append(buf, []byte(key.String())...)
	buf = appendInt64(buf, value)
	if outcome {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return ethcrypto.Keccak256(buf)
}
