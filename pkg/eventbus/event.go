package eventbus

import (
	"github.com/nyxrelay/quorumview/pkg/types"
)

// Kind is the closed enumeration of event kinds carried by the bus,
// grounded verbatim on HotShot's task-impls/src/events.rs HotShotEvent
// enum (see original_source/ in the retrieval pack).
type Kind int

const (
	Shutdown Kind = iota

	QuorumProposalRecv
	QuorumProposalSend
	QuorumVoteRecv
	QuorumVoteSend
	TimeoutVoteRecv
	TimeoutVoteSend
	QCFormed

	DAProposalRecv
	DAProposalSend
	DAVoteRecv
	DAVoteSend
	DACRecv
	DACSend

	VidDisperseRecv
	VidDisperseSend
	VidVoteRecv
	VidVoteSend
	VidCertRecv
	VidCertSend

	SendPayloadCommitmentAndMetadata
	BlockReady

	ViewChange
	LeafDecided
	Timeout

	ViewSyncTrigger
	ViewSyncTimeout
	ViewSyncPreCommitVoteRecv
	ViewSyncPreCommitVoteSend
	ViewSyncCommitVoteRecv
	ViewSyncCommitVoteSend
	ViewSyncFinalizeVoteRecv
	ViewSyncFinalizeVoteSend
	ViewSyncPreCommitCertificate2Recv
	ViewSyncPreCommitCertificate2Send
	ViewSyncCommitCertificate2Recv
	ViewSyncCommitCertificate2Send
	ViewSyncFinalizeCertificate2Recv
	ViewSyncFinalizeCertificate2Send

	TransactionsRecv
	TransactionSend
)

func (k Kind) String() string {
	names := map[Kind]string{
		Shutdown: "Shutdown", QuorumProposalRecv: "QuorumProposalRecv", QuorumProposalSend: "QuorumProposalSend",
		QuorumVoteRecv: "QuorumVoteRecv", QuorumVoteSend: "QuorumVoteSend", TimeoutVoteRecv: "TimeoutVoteRecv",
		TimeoutVoteSend: "TimeoutVoteSend", QCFormed: "QCFormed", DAProposalRecv: "DAProposalRecv",
		DAProposalSend: "DAProposalSend", DAVoteRecv: "DAVoteRecv", DAVoteSend: "DAVoteSend", DACRecv: "DACRecv",
		DACSend: "DACSend", VidDisperseRecv: "VidDisperseRecv", VidDisperseSend: "VidDisperseSend",
		VidVoteRecv: "VidVoteRecv", VidVoteSend: "VidVoteSend", VidCertRecv: "VidCertRecv", VidCertSend: "VidCertSend",
		SendPayloadCommitmentAndMetadata: "SendPayloadCommitmentAndMetadata", BlockReady: "BlockReady",
		ViewChange: "ViewChange", LeafDecided: "LeafDecided", Timeout: "Timeout", ViewSyncTrigger: "ViewSyncTrigger",
		ViewSyncTimeout: "ViewSyncTimeout", ViewSyncPreCommitVoteRecv: "ViewSyncPreCommitVoteRecv",
		ViewSyncPreCommitVoteSend: "ViewSyncPreCommitVoteSend", ViewSyncCommitVoteRecv: "ViewSyncCommitVoteRecv",
		ViewSyncCommitVoteSend: "ViewSyncCommitVoteSend", ViewSyncFinalizeVoteRecv: "ViewSyncFinalizeVoteRecv",
		ViewSyncFinalizeVoteSend:          "ViewSyncFinalizeVoteSend",
		ViewSyncPreCommitCertificate2Recv: "ViewSyncPreCommitCertificate2Recv",
		ViewSyncPreCommitCertificate2Send: "ViewSyncPreCommitCertificate2Send",
		ViewSyncCommitCertificate2Recv:    "ViewSyncCommitCertificate2Recv",
		ViewSyncCommitCertificate2Send:    "ViewSyncCommitCertificate2Send",
		ViewSyncFinalizeCertificate2Recv:  "ViewSyncFinalizeCertificate2Recv",
		ViewSyncFinalizeCertificate2Send:  "ViewSyncFinalizeCertificate2Send",
		TransactionsRecv:                  "TransactionsRecv", TransactionSend: "TransactionSend",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// ViewSyncPhase names the three phases of the view-sync sub-protocol.
type ViewSyncPhase int

const (
	PhasePreCommit ViewSyncPhase = iota
	PhaseCommit
	PhaseFinalize
)

// Event is the closed sum type carried by the bus. Only the fields
// relevant to Kind are populated; the rest are zero. This mirrors a
// Rust tagged union as a plain Go struct, which is the idiom the
// teacher repo itself uses for its narrower Propose/Vote/Certificate
// messages (one struct per concern, few interface{} payloads).
type Event struct {
	Kind Kind

	View       types.View
	Sender     types.NodeID
	Proposal   types.Proposal
	Vote       types.Vote
	Cert       types.Certificate
	AltCert    types.Certificate // second certificate slot, e.g. QCFormed(TC) vs QCFormed(QC)
	IsTimeout  bool              // for QCFormed: true if AltCert (TC) should be used instead of Cert (QC)
	Leaves     []types.Leaf      // for LeafDecided
	PayloadCmt types.Hash
	Metadata   []byte
	Payload    []byte
	Txs        [][]byte
	Round      uint64        // for ViewSyncTimeout
	Phase      ViewSyncPhase // for ViewSyncTimeout
}
