// Package auth finds the provider API key the studio renders with and
// checks user-supplied keys before they are attached to a workspace.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".ecom-image-studio"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// keySource is one place an API key may come from. An empty key with a
// nil error means the source is simply not configured.
type keySource struct {
	name string
	load func() (string, error)
}

// GetAPIKey returns the operator key: GEMINI_API_KEY, then the encrypted
// credentials file under the home directory.
func GetAPIKey() (string, error) {
	return ResolveAPIKey("")
}

// ResolveAPIKey returns a key a user brought for this request, falling
// back to the operator key.
func ResolveAPIKey(explicit string) (string, error) {
	sources := []keySource{
		{name: "request", load: func() (string, error) { return strings.TrimSpace(explicit), nil }},
		{name: "environment", load: func() (string, error) { return os.Getenv("GEMINI_API_KEY"), nil }},
		{name: "encrypted file", load: decryptCredentialFile},
	}

	var errs []error
	for _, src := range sources {
		key, err := src.load()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
			continue
		}
		if key != "" {
			log.Debug().Str("source", src.name).Msg("API key resolved")
			return key, nil
		}
	}

	err := errors.Join(errs...)
	log.Error().Err(err).Msg("No API key available")
	return "", fmt.Errorf("no API key: set GEMINI_API_KEY or store one GPG-encrypted at ~/%s/%s", credentialDir, credentialFile)
}

// decryptCredentialFile runs gpg on the credentials file. A passphrase
// file next to the binary or in the working directory enables
// non-interactive decryption when it is readable by its owner only.
func decryptCredentialFile() (string, error) {
	path, err := credentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("credentials file %s: %w", path, err)
	}

	args := []string{"--decrypt", "--quiet"}
	if pass := findPassphraseFile(); pass != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pass)
	}
	args = append(args, path)

	out, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gpg decrypt %s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gpg decrypt %s: %w", path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func credentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// findPassphraseFile returns the first usable passphrase file, or "".
func findPassphraseFile() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if perm := fi.Mode().Perm(); perm&0o077 != 0 {
			log.Warn().Str("file", path).Str("permissions", fmt.Sprintf("%04o", perm)).Msg("Ignoring passphrase file readable by others")
			continue
		}
		return path
	}
	return ""
}
