package evm

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func wrapERC6492(t *testing.T, factory common.Address, calldata, inner []byte) []byte {
	t.Helper()
	addressType, _ := abi.NewType("address", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}
	packed, err := args.Pack(factory, calldata, inner)
	if err != nil {
		t.Fatalf("failed to pack wrapper: %v", err)
	}
	return append(packed, erc6492MagicSuffix...)
}

func TestIsERC6492Signature(t *testing.T) {
	inner := bytes.Repeat([]byte{0xab}, 65)
	if IsERC6492Signature(inner) {
		t.Fatal("plain signature must not be detected as wrapped")
	}

	wrapped := wrapERC6492(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), []byte{0x01}, inner)
	if !IsERC6492Signature(wrapped) {
		t.Fatal("wrapped signature not detected")
	}
}

func TestParseERC6492SignaturePassthrough(t *testing.T) {
	inner := bytes.Repeat([]byte{0xcd}, 65)
	data, err := ParseERC6492Signature(inner)
	if err != nil {
		t.Fatal(err)
	}
	if data.Factory != ([20]byte{}) {
		t.Fatal("unwrapped signature must have zero factory")
	}
	if !bytes.Equal(data.InnerSignature, inner) {
		t.Fatal("inner signature must pass through unchanged")
	}
}

func TestParseERC6492SignatureWrapped(t *testing.T) {
	factory := common.HexToAddress("0x2222222222222222222222222222222222222222")
	calldata := []byte{0xde, 0xad, 0xbe, 0xef}
	inner := bytes.Repeat([]byte{0x42}, 65)

	data, err := ParseERC6492Signature(wrapERC6492(t, factory, calldata, inner))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data.Factory[:], factory.Bytes()) {
		t.Fatalf("factory = %x", data.Factory)
	}
	if !bytes.Equal(data.FactoryCalldata, calldata) {
		t.Fatalf("calldata = %x", data.FactoryCalldata)
	}
	if !bytes.Equal(data.InnerSignature, inner) {
		t.Fatalf("inner = %x", data.InnerSignature)
	}
}

func TestParseERC6492SignatureMalformed(t *testing.T) {
	garbage := append(bytes.Repeat([]byte{0xff}, 40), erc6492MagicSuffix...)
	if _, err := ParseERC6492Signature(garbage); err == nil {
		t.Fatal("expected error for malformed wrapper")
	}
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("payment authorization")))

	signature, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatal(err)
	}

	// Recovery id as produced by crypto.Sign (0/1).
	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != address {
		t.Fatalf("recovered %s, want %s", recovered, address)
	}

	// Ethereum wire encoding (27/28).
	shifted := make([]byte, 65)
	copy(shifted, signature)
	shifted[64] += 27
	recovered, err = RecoverSigner(digest, shifted)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != address {
		t.Fatalf("recovered %s, want %s", recovered, address)
	}

	if _, err := RecoverSigner(digest, shifted[:64]); err == nil {
		t.Fatal("expected error for short signature")
	}
}
