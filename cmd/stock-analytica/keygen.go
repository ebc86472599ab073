package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"stock-analytica/internal/rsakeys"
)

type keygenCmd struct {
	dir string
}

func (*keygenCmd) Name() string     { return "keygen" }
func (*keygenCmd) Synopsis() string { return "create the password key pair if absent and print the public key" }
func (*keygenCmd) Usage() string {
	return `stock-analytica keygen [-dir <keys_dir>]

  Loads private.pem from the directory, generating a 2048-bit pair when
  either file is missing, and prints the public key browsers encrypt with.
`
}

func (k *keygenCmd) SetFlags(f *flag.FlagSet) {
	dir := os.Getenv("KEYS_DIR")
	if dir == "" {
		dir = "keys"
	}
	f.StringVar(&k.dir, "dir", dir, "Directory holding private.pem and public.pem.")
}

func (k *keygenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	keys, err := rsakeys.Load(k.dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(keys.PublicKeyPEM())
	return subcommands.ExitSuccess
}
