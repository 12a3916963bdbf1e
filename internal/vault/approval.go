package vault

import (
	"crypto/ecdsa"
	"fmt"

	"PairLedger/internal/abi"
	"PairLedger/internal/types"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	domainName       = "PairLedger Vault V1"
	approvalWarning  = "Give FULL access to funds in (and approved to) the vault?"
	revocationNotice = "Revoke access to the vault?"
)

var (
	domainTypeHash   = crypto.Keccak256Hash([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	approvalTypeHash = crypto.Keccak256Hash([]byte("SetMasterContractApproval(string warning,address user,address masterContract,bool approved,uint256 nonce)"))

	domainLayout   = abi.NewLayout(abi.Bytes32, abi.Bytes32, abi.Uint256, abi.Address)
	approvalLayout = abi.NewLayout(abi.Bytes32, abi.Bytes32, abi.Address, abi.Address, abi.Bool, abi.Uint256)
)

// DomainSeparator binds signatures to this vault instance and chain.
func (v *MemoryVault) DomainSeparator() []byte {
	return crypto.Keccak256(domainLayout.MustPack(
		[32]byte(domainTypeHash),
		[32]byte(crypto.Keccak256Hash([]byte(domainName))),
		uint256.NewInt(v.chainID),
		v.address,
	))
}

// ApprovalDigest is the typed-data hash a user signs to approve (or revoke)
// a master contract at the given nonce.
func (v *MemoryVault) ApprovalDigest(user, master types.Address, approved bool, nonce uint64) []byte {
	warning := revocationNotice
	if approved {
		warning = approvalWarning
	}
	structHash := crypto.Keccak256(approvalLayout.MustPack(
		[32]byte(approvalTypeHash),
		[32]byte(crypto.Keccak256Hash([]byte(warning))),
		user,
		master,
		approved,
		uint256.NewInt(nonce),
	))
	return crypto.Keccak256([]byte{0x19, 0x01}, v.DomainSeparator(), structHash)
}

// SignApproval produces the 65-byte recoverable signature (r || s || v,
// v in {0, 1}) accepted by SetMasterContractApproval.
func SignApproval(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	return crypto.Sign(digest, key)
}

// SetMasterContractApproval grants or revokes master's right to move
// user's shares. Without a signature the caller must be the user and the
// master must be whitelisted; with one, the signature must recover to the
// user at the current nonce, which is then consumed.
func (v *MemoryVault) SetMasterContractApproval(caller, user, master types.Address, approved bool, sig []byte) error {
	if len(sig) == 0 {
		if user != caller {
			return ErrUserNotSender
		}
		if _, isClone := v.state.masterOf[user]; isClone {
			return ErrContractRegister
		}
		if !v.state.whitelisted[master] {
			return ErrNotWhitelisted
		}
	} else {
		if user == types.ZeroAddress {
			return ErrInvalidSignature
		}
		nonce := v.state.nonces[user]
		pub, err := crypto.SigToPub(v.ApprovalDigest(user, master, approved, nonce), sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if crypto.PubkeyToAddress(*pub) != user {
			return ErrInvalidSignature
		}
		v.state.nonces[user] = nonce + 1
	}

	users, ok := v.state.approved[master]
	if !ok {
		users = make(map[types.Address]bool)
		v.state.approved[master] = users
	}
	users[user] = approved
	return nil
}
