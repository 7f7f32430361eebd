// Command tcfs-keygen manages a device's persistent ed25519 identity
// keypair: generation, inspection, and export for backup.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/tcfs-dev/tcfs/internal/keystore"
)

const (
	identityKeyFile = "identity.key"
	identityPubFile = "identity.pub"
)

var (
	outputDir      string
	noPassphrase   bool
	force          bool
	includePrivate bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	case "export":
		exportCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("tcfs-keygen - device identity key management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tcfs-keygen generate [flags]  generate a new identity keypair")
	fmt.Println("  tcfs-keygen show [flags]      display public key information")
	fmt.Println("  tcfs-keygen export [flags]    export keys for backup")
	fmt.Println()
	fmt.Println("Run 'tcfs-keygen <command> -h' for command-specific help")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", keystore.GetDefaultKeystorePath(), "key storage directory")
	fs.BoolVar(&noPassphrase, "no-passphrase", false, "generate without passphrase protection")
	fs.BoolVar(&force, "force", false, "overwrite existing keys")
	fs.Parse(args)

	if err := os.MkdirAll(outputDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(outputDir, identityKeyFile)
	pubPath := filepath.Join(outputDir, identityPubFile)

	if !force {
		if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
			fmt.Println("Identity keys already exist.")
			fmt.Print("Overwrite existing keys? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Aborted.")
				return
			}
		}
	}

	fmt.Println("Generating new identity keypair...")
	fmt.Println()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate keypair: %v\n", err)
		os.Exit(1)
	}

	var passphrase string
	if !noPassphrase {
		fmt.Print("Enter passphrase (leave empty for no encryption): ")
		passphraseBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read passphrase: %v\n", err)
			os.Exit(1)
		}
		passphrase = string(passphraseBytes)

		if passphrase != "" {
			fmt.Print("Confirm passphrase: ")
			confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to read passphrase: %v\n", err)
				os.Exit(1)
			}
			if passphrase != string(confirmBytes) {
				fmt.Fprintln(os.Stderr, "passphrases do not match")
				os.Exit(1)
			}
		}
	}

	if err := keystore.SaveKey(priv, keyPath, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save private key: %v\n", err)
		os.Exit(1)
	}

	pubKeyB64 := base64.StdEncoding.EncodeToString(pub)
	if err := os.WriteFile(pubPath, []byte(pubKeyB64+"\n"), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Identity keypair generated successfully!")
	fmt.Println()
	fmt.Println("Public Key:")
	fmt.Printf("  %s\n", pubKeyB64)
	fmt.Println()
	fmt.Println("Fingerprint:")
	fmt.Printf("  %s\n", keystore.ComputeFingerprint(pub))
	fmt.Println()
	fmt.Println("Keys stored in:")
	fmt.Printf("  %s\n", outputDir)

	if passphrase == "" {
		fmt.Println()
		fmt.Println("WARNING: keys stored WITHOUT encryption (insecure)")
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", keystore.GetDefaultKeystorePath(), "key storage directory")
	fs.Parse(args)

	pubPath := filepath.Join(outputDir, identityPubFile)

	pubKeyData, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read public key: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'tcfs-keygen generate' first to create keys")
		os.Exit(1)
	}

	pubKeyB64 := string(pubKeyData)
	if len(pubKeyB64) > 0 && pubKeyB64[len(pubKeyB64)-1] == '\n' {
		pubKeyB64 = pubKeyB64[:len(pubKeyB64)-1]
	}

	pubKeyBytes, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode public key: %v\n", err)
		os.Exit(1)
	}

	fileInfo, _ := os.Stat(pubPath)
	modTime := ""
	if fileInfo != nil {
		modTime = fileInfo.ModTime().Format(time.RFC3339)
	}

	fmt.Println("Identity Public Key:")
	fmt.Printf("  %s\n", pubKeyB64)
	fmt.Println()
	fmt.Println("Fingerprint:")
	fmt.Printf("  %s\n", keystore.ComputeFingerprint(ed25519.PublicKey(pubKeyBytes)))
	fmt.Println()
	fmt.Println("Key Type: Ed25519")
	fmt.Printf("Created: %s\n", modTime)
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", keystore.GetDefaultKeystorePath(), "key storage directory")
	fs.BoolVar(&includePrivate, "include-private", false, "include private key in export")
	fs.Parse(args)

	pubPath := filepath.Join(outputDir, identityPubFile)

	pubKeyData, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Public Key:")
	fmt.Print(string(pubKeyData))

	if includePrivate {
		fmt.Println()
		fmt.Println("WARNING: exporting a private key is a sensitive operation")
		fmt.Println("Private key export is not supported by this command")
		fmt.Println("Copy the keystore file directly for backup")
	}
}
