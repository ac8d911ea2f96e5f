package macaroon

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"
	"gopkg.in/macaroon.v2"
)

const (
	// MetadataKey is the gRPC metadata key lnd reads the macaroon from.
	MetadataKey = "macaroon"
	// HeaderKey is the header the lnd REST proxy maps onto MetadataKey.
	HeaderKey = "Grpc-Metadata-macaroon"
)

// Credential is a validated macaroon ready to be attached to requests.
type Credential struct {
	hexMacaroon string
	mac         *macaroon.Macaroon
}

// Load reads a macaroon file. Both the binary serialization written by lnd
// and a hex-encoded text file are accepted.
func Load(path string) (*Credential, error) {
	if len(path) <= 0 {
		return nil, fmt.Errorf("missing macaroon path")
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon at path %s: %w", path, err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Credential, error) {
	raw := buf
	if decoded, err := hex.DecodeString(strings.TrimSpace(string(buf))); err == nil {
		raw = decoded
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("invalid macaroon: %w", err)
	}

	return &Credential{
		hexMacaroon: hex.EncodeToString(raw),
		mac:         mac,
	}, nil
}

func (c *Credential) Hex() string {
	return c.hexMacaroon
}

func (c *Credential) Location() string {
	return c.mac.Location()
}

// Expiry returns the time-before caveat of the macaroon, if any.
func (c *Credential) Expiry() (time.Time, bool) {
	for _, caveat := range c.mac.Caveats() {
		cond := string(caveat.Id)
		if !strings.HasPrefix(cond, "time-before ") {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(cond, "time-before "))
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WithContext attaches the macaroon as outgoing gRPC metadata.
func (c *Credential) WithContext(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, c.hexMacaroon)
}
