package crypto

import (
	"testing"

	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/types"
)

func testTable() *stake.Table {
	return stake.NewTable([]stake.Validator{
		{ID: "n0", Stake: 1}, {ID: "n1", Stake: 1}, {ID: "n2", Stake: 1}, {ID: "n3", Stake: 1},
	})
}

func signedCert(t *testing.T, table *stake.Table, reg *Registry, signers []types.NodeID, cmt types.Hash) types.Certificate {
	t.Helper()
	var sigs [][]byte
	for _, id := range signers {
		signer := NewBLSSignerFromSeed([]byte("seed-for-" + string(id) + "-000000000"))
		reg.Register(id, signer.Pubkey())
		sigs = append(sigs, signer.Sign(cmt[:]))
	}
	agg := Aggregate(sigs)
	return types.Certificate{Kind: types.KindQuorum, View: 1, Cmt: cmt, Signers: signers, Sig: agg}
}

func TestVerifyCertificateAcceptsThresholdStakeAndValidSignature(t *testing.T) {
	table := testTable()
	reg := NewRegistry()
	cmt := types.Hash{1, 2, 3}
	cert := signedCert(t, table, reg, []types.NodeID{"n0", "n1", "n2"}, cmt)
	if !reg.VerifyCertificate(table, cert) {
		t.Fatal("expected a threshold-stake, validly-signed certificate to verify")
	}
}

func TestVerifyCertificateRejectsBelowThresholdStake(t *testing.T) {
	table := testTable()
	reg := NewRegistry()
	cmt := types.Hash{1, 2, 3}
	cert := signedCert(t, table, reg, []types.NodeID{"n0", "n1"}, cmt)
	if reg.VerifyCertificate(table, cert) {
		t.Fatal("expected a below-threshold certificate to be rejected")
	}
}

func TestVerifyCertificateRejectsDuplicateSigner(t *testing.T) {
	table := testTable()
	reg := NewRegistry()
	cmt := types.Hash{1, 2, 3}
	cert := signedCert(t, table, reg, []types.NodeID{"n0", "n1", "n2"}, cmt)
	cert.Signers = append(cert.Signers, "n0")
	if reg.VerifyCertificate(table, cert) {
		t.Fatal("expected a certificate listing a duplicate signer to be rejected")
	}
}

func TestVerifyCertificateRejectsUnknownSigner(t *testing.T) {
	table := testTable()
	reg := NewRegistry()
	cmt := types.Hash{1, 2, 3}
	cert := signedCert(t, table, reg, []types.NodeID{"n0", "n1", "n2"}, cmt)
	cert.Signers[0] = "nobody"
	if reg.VerifyCertificate(table, cert) {
		t.Fatal("expected a certificate naming a non-stake-table signer to be rejected")
	}
}
