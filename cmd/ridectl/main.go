// Command ridectl is client tooling for the ride ledger: key generation,
// offline key derivation and proof minting.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"

	"rideledger/internal/address"
	"rideledger/internal/auth"
	"rideledger/internal/domain"
)

var cli struct {
	Keygen KeygenCmd `cmd:"" help:"Generate an Ed25519 identity, or import a 64-byte JSON keypair."`
	Derive DeriveCmd `cmd:"" help:"Derive the record key and bump for a ride."`
	Prove  ProveCmd  `cmd:"" help:"Mint a proof of control for an identity."`
}

// keyFile is the on-disk form written by keygen.
type keyFile struct {
	Identity string `json:"identity"`
	Seed     string `json:"seed"`
}

type KeygenCmd struct {
	From string `name:"from" help:"Import a JSON array of 64 bytes (secret key followed by public key)." type:"existingfile"`
	Out  string `name:"out" short:"o" help:"Write the key file here instead of stdout."`
}

func (c *KeygenCmd) Run() error {
	var priv ed25519.PrivateKey
	if c.From != "" {
		raw, err := os.ReadFile(c.From)
		if err != nil {
			return err
		}
		var bytes []byte
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return fmt.Errorf("parse keypair: %w", err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return errors.New("keypair values must be bytes")
			}
			bytes = append(bytes, byte(v))
		}
		if len(bytes) != ed25519.PrivateKeySize {
			return fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(bytes))
		}
		priv = ed25519.NewKeyFromSeed(bytes[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(bytes[ed25519.SeedSize:])) {
			return errors.New("keypair public half does not match its secret")
		}
	} else {
		var err error
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return err
		}
	}

	id, err := domain.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(keyFile{Identity: id.String(), Seed: hex.EncodeToString(priv.Seed())}, "", "  ")
	if err != nil {
		return err
	}

	if c.Out == "" {
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	}
	return os.WriteFile(c.Out, append(out, '\n'), 0o600)
}

type DeriveCmd struct {
	Rider    string `name:"rider" required:"" help:"Rider identity (hex)."`
	UniqueID uint64 `name:"unique-id" required:"" help:"Rider-chosen ride id."`
	Program  string `name:"program" env:"LEDGER_PROGRAM_ID" default:"0000000000000000000000000000000000000000000000000000000000000000" help:"Program id (hex)."`
	Tag      string `name:"tag" env:"LEDGER_SEED_TAG" default:"ride" help:"Namespace tag."`
}

func (c *DeriveCmd) Run() error {
	rider, err := domain.ParseIdentity(c.Rider)
	if err != nil {
		return fmt.Errorf("rider: %w", err)
	}
	program, err := hex.DecodeString(c.Program)
	if err != nil || len(program) != 32 {
		return errors.New("program must be 32 hex-encoded bytes")
	}

	ns := address.Namespace{Tag: c.Tag}
	copy(ns.Program[:], program)

	key, bump, err := address.DeriveKey(ns, rider, c.UniqueID)
	if err != nil {
		return err
	}
	fmt.Printf("key:  %s\nbump: %d\n", key, bump)
	return nil
}

type ProveCmd struct {
	KeyFile  string        `name:"key-file" short:"k" required:"" type:"existingfile" help:"Key file written by keygen."`
	Audience string        `name:"audience" env:"AUTH_AUDIENCE" default:"rideledger" help:"Proof audience."`
	TTL      time.Duration `name:"ttl" default:"2m" help:"Proof lifetime."`
}

func (c *ProveCmd) Run() error {
	priv, err := loadKey(c.KeyFile)
	if err != nil {
		return err
	}
	proof, err := auth.MintProof(priv, c.Audience, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(proof)
	return nil
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	seed, err := hex.DecodeString(kf.Seed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("key file seed must be 32 hex-encoded bytes")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("ridectl"),
		kong.Description("Client tooling for the ride ledger."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
