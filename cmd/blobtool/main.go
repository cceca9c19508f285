// Command blobtool encrypts and decrypts context blobs for use with
// /vault/init and /context/request payloads.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"echovault.org/internal/crypto"
)

func main() {
	log.SetFlags(0)
	var (
		secret = flag.String("secret", os.Getenv("ECHOVAULT_BLOB_SECRET"), "encryption secret")
		in     = flag.String("in", "-", "input file, - for stdin")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("missing secret: provide via -secret or ECHOVAULT_BLOB_SECRET")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: blobtool [encrypt|decrypt]")
	}

	data, err := readInput(*in)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}

	switch flag.Arg(0) {
	case "encrypt":
		blob, err := crypto.Encrypt(string(data), *secret)
		if err != nil {
			log.Fatalf("encrypt: %v", err)
		}
		out, err := json.MarshalIndent(blob, "", "  ")
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		fmt.Println(string(out))
	case "decrypt":
		var blob crypto.EncryptedBlob
		if err := json.Unmarshal(data, &blob); err != nil {
			log.Fatalf("parse blob: %v", err)
		}
		plaintext, err := crypto.Decrypt(blob, *secret)
		if err != nil {
			log.Fatalf("decrypt: %v", err)
		}
		fmt.Println(plaintext)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
