package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRecordDeploymentDoesNotMutateReceiver(t *testing.T) {
	base := NewRecord("local").MergeMissing([]string{"Lib"})
	next := base.RecordDeployment("Lib", libAddr, common.HexToHash("0x01"))
	if _, ok := base.Get("Lib"); ok {
		t.Fatalf("original record was mutated")
	}
	if addr, ok := next.Get("Lib"); !ok || addr != libAddr {
		t.Fatalf("next record missing address")
	}
	cleared := next.RecordDeployment("Lib", contractAddr, common.Hash{})
	if _, ok := cleared.CodeHash("Lib"); ok {
		t.Fatalf("stale code hash survived a redeploy without hash")
	}
	if _, ok := next.CodeHash("Lib"); !ok {
		t.Fatalf("earlier record lost its code hash")
	}
}

func TestMergeMissingKeepsExistingEntries(t *testing.T) {
	record := NewRecord("local").RecordDeployment("Lib", libAddr, common.Hash{})
	merged := record.MergeMissing([]string{"Lib", "Contract"})
	if addr, _ := merged.Get("Lib"); addr != libAddr {
		t.Fatalf("existing entry overwritten")
	}
	if names := merged.Names(); len(names) != 2 || names[0] != "Contract" || names[1] != "Lib" {
		t.Fatalf("names = %v", names)
	}
}

func TestGetTreatsZeroAddressAsUnset(t *testing.T) {
	record := NewRecord("local").RecordDeployment("Lib", common.Address{}, common.Hash{})
	if _, ok := record.Get("Lib"); ok {
		t.Fatalf("zero address reported as set")
	}
}
