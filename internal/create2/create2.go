// Package create2 predicts contract addresses for deployments routed
// through a CREATE2 factory.
package create2

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ArachnidFactory is the deterministic deployment proxy present at the same
// address on most EVM networks. Its calldata is salt ++ initCode.
var ArachnidFactory = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// ComputeAddress returns keccak256(0xff ++ factory ++ salt ++ keccak256(initCode))[12:].
func ComputeAddress(initCode []byte, salt [32]byte, factory common.Address) common.Address {
	return crypto.CreateAddress2(factory, salt, InitCodeHash(initCode).Bytes())
}

// InitCodeHash is keccak256 of the full creation code, constructor
// arguments included.
func InitCodeHash(initCode []byte) common.Hash {
	return crypto.Keccak256Hash(initCode)
}

// SaltFromSeed encodes the vanity seed as a 32-byte big-endian word. A nil
// seed yields the zero salt.
func SaltFromSeed(seed *uint64) [32]byte {
	if seed == nil {
		return [32]byte{}
	}
	return uint256.NewInt(*seed).Bytes32()
}

// InitCode concatenates linked creation code and encoded constructor
// arguments.
func InitCode(linked, constructorArgs []byte) []byte {
	code := make([]byte, 0, len(linked)+len(constructorArgs))
	code = append(code, linked...)
	return append(code, constructorArgs...)
}

// FactoryCalldata is the payload the Arachnid factory expects.
func FactoryCalldata(salt [32]byte, initCode []byte) []byte {
	data := make([]byte, 0, len(salt)+len(initCode))
	data = append(data, salt[:]...)
	return append(data, initCode...)
}
