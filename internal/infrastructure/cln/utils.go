package cln

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
)

func networkFromCln(network string) domain.Network {
	if network == "bitcoin" {
		return domain.Mainnet
	}
	return domain.Network(network)
}

func isValidPubkey(pubkey string) bool {
	buf, err := hex.DecodeString(pubkey)
	return err == nil && len(buf) == 33
}

func splitChannelPoint(channelPoint string) (string, uint32, error) {
	parts := strings.Split(channelPoint, ":")
	if len(parts) != 2 {
		return "", 0, domain.NewError(
			domain.InvalidArgument, "invalid channel point %q, expected txid:index", channelPoint,
		)
	}
	if txid, err := hex.DecodeString(parts[0]); err != nil || len(txid) != 32 {
		return "", 0, domain.NewError(domain.InvalidArgument, "invalid funding txid %q", parts[0])
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, domain.NewError(domain.InvalidArgument, "invalid output index %q", parts[1])
	}
	return parts[0], uint32(index), nil
}
