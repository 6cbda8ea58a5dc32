// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// stampID is an arbitrary number added to the recovery id of every signature
// this node produces. Ethereum and Bitcoin do this as well, but they use the
// value of 27.
const stampID = 29

// =============================================================================

// Hash returns a unique keccak256 string for the JSON form of the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	return hexutil.Encode(crypto.Keccak256(data))
}

// Address returns the hex address for the specified public key.
func Address(publicKey ecdsa.PublicKey) string {
	return crypto.PubkeyToAddress(publicKey).String()
}

// Sign uses the specified private key to sign the data and returns the
// signature in its hex string form.
func Sign(value any, privateKey *ecdsa.PrivateKey) (string, error) {

	// Prepare the data for signing.
	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return "", err
	}

	// Extract the public key from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	// Check the public key extracted from the data and signature.
	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return "", errors.New("invalid signature")
	}

	sig[crypto.RecoveryIDOffset] += stampID

	return hexutil.Encode(sig), nil
}

// FromAddress verifies the hex signature and extracts the address of the
// account that signed the value.
func FromAddress(value any, sigHex string) (string, error) {
	v, r, s, err := toVRS(sigHex)
	if err != nil {
		return "", err
	}

	// Check the recovery id is either 0 or 1.
	recID := v.Uint64() - stampID
	if recID != 0 && recID != 1 {
		return "", errors.New("invalid recovery id")
	}

	// Check the signature values are valid.
	if !crypto.ValidateSignatureValues(byte(recID), r, s, false) {
		return "", errors.New("invalid signature values")
	}

	// NOTE: If the same exact data for the given signature is not provided
	// we will get the wrong from address. The public key is being extracted
	// from the data and signature.

	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	sig := toSignatureBytes(v, r, s)

	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this data with
// the node stamp embedded into the final hash.
func stamp(value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	// Hash the data into a 32 byte array. This will provide
	// a data length consistency with all data.
	dataHash := crypto.Keccak256(v)

	// Signatures we produce are always unique to this chain.
	stamp := []byte("\x19Chainnode Signed Message:\n32")

	return crypto.Keccak256(stamp, dataHash), nil
}

// toVRS converts a hex representation of the signature into its R, S and V
// parts.
func toVRS(sigHex string) (v, r, s *big.Int, err error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decoding signature: %w", err)
	}

	if len(sig) != crypto.SignatureLength {
		return nil, nil, nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})

	return v, r, s, nil
}

// toSignatureBytes converts the r, s, v values into a slice of bytes
// with the removal of the stamp id.
func toSignatureBytes(v, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(v.Uint64() - stampID)

	return sig
}
