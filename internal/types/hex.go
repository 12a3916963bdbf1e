package types

import "github.com/ethereum/go-ethereum/common/hexutil"

// HexBytes is a byte slice carried as a 0x-prefixed hex string in JSON
// and YAML.
type HexBytes = hexutil.Bytes
