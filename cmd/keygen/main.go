// Command keygen generates a BLS keypair for a validator, grounded on
// original_source's testing/tests/gen_key_pair.rs: it reads a seed
// (or draws one from crypto/rand) and prints the public key hex plus
// the private seed, so an operator can paste the public half into a
// node's TOML config and keep the seed off disk entirely if they
// prefer piping it straight into a secret store.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/nyxrelay/quorumview/pkg/crypto"
)

func main() {
	seedHex := flag.String("seed", "", "hex-encoded seed (random if omitted)")
	flag.Parse()

	var seed []byte
	if *seedHex != "" {
		b, err := hex.DecodeString(*seedHex)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid seed:", err)
			os.Exit(1)
		}
		seed = b
	} else {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintln(os.Stderr, "failed to read random seed:", err)
			os.Exit(1)
		}
	}

	signer := crypto.NewBLSSignerFromSeed(seed)
	pk, err := signer.Pubkey().MarshalBinary()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to marshal public key:", err)
		os.Exit(1)
	}

	fmt.Printf("seed       %s\n", hex.EncodeToString(seed))
	fmt.Printf("public_key %s\n", hex.EncodeToString(pk))
}
