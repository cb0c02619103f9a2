package facilitator

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/x402/x402-go/extensions/eip2612gassponsor"
	"github.com/x402/x402-go/mechanisms/evm"
)

const (
	testPermitPayer = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	testPermitToken = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func sponsoredPermit() *eip2612gassponsor.Info {
	return &eip2612gassponsor.Info{
		From:      testPermitPayer,
		Asset:     testPermitToken,
		Spender:   evm.PERMIT2Address,
		Amount:    "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		Nonce:     "0",
		Deadline:  fmt.Sprintf("%d", time.Now().Unix()+300),
		Signature: "0xabcdef1234567890abcdef1234567890abcdef12",
		Version:   "1",
	}
}

func TestValidateEip2612PermitForPayment(t *testing.T) {
	t.Run("well-formed permit covering the payment", func(t *testing.T) {
		if reason := validateEip2612PermitForPayment(sponsoredPermit(), testPermitPayer, testPermitToken); reason != "" {
			t.Errorf("expected the permit to validate, got %s", reason)
		}
	})

	rejections := []struct {
		name   string
		mutate func(*eip2612gassponsor.Info)
		want   string
	}{
		{
			name:   "permit signed by someone other than the payer",
			mutate: func(i *eip2612gassponsor.Info) { i.From = "0x0000000000000000000000000000000000000001" },
			want:   ErrEip2612PermitMismatch,
		},
		{
			name:   "permit for a different token",
			mutate: func(i *eip2612gassponsor.Info) { i.Asset = "0x0000000000000000000000000000000000000001" },
			want:   ErrEip2612PermitMismatch,
		},
		{
			name:   "permit approving something other than Permit2",
			mutate: func(i *eip2612gassponsor.Info) { i.Spender = "0x0000000000000000000000000000000000000001" },
			want:   ErrEip2612PermitMismatch,
		},
		{
			name:   "deadline already past",
			mutate: func(i *eip2612gassponsor.Info) { i.Deadline = "1000000000" },
			want:   ErrEip2612DeadlineExpired,
		},
		{
			name:   "deadline inside the settlement buffer",
			mutate: func(i *eip2612gassponsor.Info) { i.Deadline = fmt.Sprintf("%d", time.Now().Unix()+1) },
			want:   ErrEip2612DeadlineExpired,
		},
		{
			name:   "malformed permit fields",
			mutate: func(i *eip2612gassponsor.Info) { i.Amount = "not-a-number" },
			want:   ErrEip2612InvalidPermit,
		},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			info := sponsoredPermit()
			tc.mutate(info)
			if got := validateEip2612PermitForPayment(info, testPermitPayer, testPermitToken); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSplitEip2612Signature(t *testing.T) {
	t.Run("splits r, s, and v out of a 65-byte signature", func(t *testing.T) {
		sig := "0x" + strings.Repeat("aa", 32) + strings.Repeat("bb", 32) + "1b"

		v, r, s, err := splitEip2612Signature(sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 27 {
			t.Errorf("expected v=27, got %d", v)
		}
		if !bytes.Equal(r[:], bytes.Repeat([]byte{0xaa}, 32)) {
			t.Errorf("unexpected r: %x", r)
		}
		if !bytes.Equal(s[:], bytes.Repeat([]byte{0xbb}, 32)) {
			t.Errorf("unexpected s: %x", s)
		}
	})

	t.Run("rejects signatures of the wrong length", func(t *testing.T) {
		if _, _, _, err := splitEip2612Signature("0xaabb"); err == nil {
			t.Fatal("expected an error for a short signature")
		}
	})

	t.Run("rejects non-hex input", func(t *testing.T) {
		if _, _, _, err := splitEip2612Signature("zz"); err == nil {
			t.Fatal("expected an error for non-hex input")
		}
	})
}
