// Command genkey writes a new PEM private key usable as SIGNING_KEY_FILE
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/gophauth/internal/service/auth/keymanager"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating signing key: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("genkey", pflag.ContinueOnError)
	alg := fs.String("alg", "rs256", "Key algorithm (rs256, eddsa)")
	out := fs.StringP("out", "o", "", "Output file, stdout if not set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var algorithm string
	switch strings.ToLower(*alg) {
	case "rs256", "rsa":
		algorithm = keymanager.AlgRS256
	case "eddsa", "ed25519":
		algorithm = keymanager.AlgEdDSA
	default:
		return fmt.Errorf("unsupported algorithm %q", *alg)
	}

	key, err := keymanager.GenerateKey(algorithm)
	if err != nil {
		return err
	}
	data, err := keymanager.EncodePEM(key)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	// Private key: owner only
	return os.WriteFile(*out, data, 0o600)
}
