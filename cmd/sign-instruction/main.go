// cmd/sign-instruction is a small CLI that generates (or loads) a
// secp256k1 keypair and signs a raw instruction payload read from stdin,
// printing the owner identity and signature a dispatcher would check
// before forwarding the instruction to pkg/engine. Same generate/sign/verify
// walkthrough as a typical order-signing CLI, but over an arbitrary
// instruction payload instead of an EIP-712 order.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hyperslab/percolator/pkg/auth"
)

func main() {
	keyHex := flag.String("key", "", "hex-encoded private key to sign with (generates a fresh one if empty)")
	payloadHex := flag.String("payload", "", "hex-encoded instruction payload to sign (reads stdin if empty)")
	flag.Parse()

	signer, err := loadOrGenerateSigner(*keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	payload, err := loadPayload(*payloadHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sig, err := signer.SignInstruction(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error signing: %v\n", err)
		os.Exit(1)
	}

	owner := signer.OwnerID()
	fmt.Printf("Owner address:  %s\n", signer.Address().Hex())
	fmt.Printf("Owner identity: %s\n", owner.Hex())
	fmt.Printf("Private key:    %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	fmt.Printf("Payload:        0x%x\n", payload)
	fmt.Printf("Signature:      0x%x\n", sig)

	if !auth.VerifyInstructionOwner(owner, payload, sig) {
		fmt.Fprintln(os.Stderr, "error: freshly produced signature failed its own verification")
		os.Exit(1)
	}
	fmt.Println("Verification:   OK")
}

func loadOrGenerateSigner(keyHex string) (*auth.Signer, error) {
	if keyHex == "" {
		return auth.GenerateKey()
	}
	return auth.FromPrivateKeyHex(keyHex)
}

func loadPayload(payloadHex string) ([]byte, error) {
	if payloadHex != "" {
		return hex.DecodeString(trimHexPrefix(payloadHex))
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading payload from stdin: %w", err)
	}
	return data, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
