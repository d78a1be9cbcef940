package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	_ "crypto/sha256" // registers SHA-256 for go-digest

	"github.com/opencontainers/go-digest"
)

// SumsProvider supplies expected digests keyed by archive filename.
type SumsProvider interface {
	Sums(ctx context.Context) (map[string]digest.Digest, error)
}

// ParseSHA256Sums parses sha256sum output ("<hex>  <name>" or "<hex> *<name>").
func ParseSHA256Sums(r io.Reader) (map[string]digest.Digest, error) {
	sums := make(map[string]digest.Digest)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("SHA256SUMS line %d: expected \"<digest> <file>\"", lineNo)
		}

		d := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(fields[0]))
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("SHA256SUMS line %d: %w", lineNo, err)
		}
		sums[strings.TrimPrefix(fields[1], "*")] = d
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading SHA256SUMS: %w", err)
	}
	return sums, nil
}

// SumsFile reads expected digests from a local SHA256SUMS file.
type SumsFile string

// Sums implements SumsProvider.
func (f SumsFile) Sums(context.Context) (map[string]digest.Digest, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", string(f), err)
	}
	defer file.Close()
	return ParseSHA256Sums(file)
}
