// Command inspector validates a scanned travel proof completely offline.
// The server public key is loaded from a file, or fetched once from the
// backend's well-known endpoint to bootstrap before going offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"ridepass/token"
	"ridepass/verifier"
)

func main() {
	keyPath := flag.String("key", "", "path to the backend public key PEM")
	backendURL := flag.String("backend", "", "backend base URL to fetch the public key from (alternative to -key)")
	proofPath := flag.String("proof", "-", "path to the proof JSON, '-' for stdin")
	flag.Parse()

	if err := run(*keyPath, *backendURL, *proofPath); err != nil {
		fmt.Fprintln(os.Stderr, "inspector:", err)
		os.Exit(1)
	}
}

func run(keyPath, backendURL, proofPath string) error {
	keyPEM, err := loadKey(keyPath, backendURL)
	if err != nil {
		return err
	}
	serverKey, err := token.ParsePublicKeyPEM(keyPEM)
	if err != nil {
		return err
	}

	proofJSON, err := loadProof(proofPath)
	if err != nil {
		return err
	}
	var proof token.RotatingProof
	if err := json.Unmarshal(proofJSON, &proof); err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}

	v, err := verifier.New(serverKey)
	if err != nil {
		return err
	}

	result := v.Verify(proof)
	if !result.OK {
		fmt.Printf("RED: %s\n", result.Reason)
		os.Exit(2)
	}
	fmt.Printf("GREEN: session=%s device=%s vehicle=%s\n",
		result.SessionID, result.DeviceID, result.VehicleID)
	return nil
}

func loadKey(keyPath, backendURL string) ([]byte, error) {
	switch {
	case keyPath != "":
		return os.ReadFile(keyPath)
	case backendURL != "":
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(backendURL + "/.well-known/backend-public.pem")
		if err != nil {
			return nil, fmt.Errorf("fetch public key: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch public key: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	default:
		return nil, fmt.Errorf("either -key or -backend is required")
	}
}

func loadProof(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
