package supervisor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/independant-validator/pkg/chainclient"
	"github.com/certen/independant-validator/pkg/htx"
	"github.com/certen/independant-validator/pkg/merkle"
	"github.com/certen/independant-validator/pkg/version"
	"github.com/certen/independant-validator/pkg/votepacking"
)

// eventSource distinguishes a backlog replay from a live assignment, the
// way the original source's HtxEventSource varies its log messages and
// whether a post-process health check runs afterward.
type eventSource int

const (
	sourceRealtime eventSource = iota
	sourceBacklog
)

func (s eventSource) receivedMessage() string {
	if s == sourceBacklog {
		return "HTX received (backlog)"
	}
	return "HTX received"
}

func (s eventSource) processErrorMessage() string {
	if s == sourceBacklog {
		return "failed to process pending HTX"
	}
	return "failed to process real-time HTX"
}

func (s eventSource) voteErrorMessage() string {
	if s == sourceBacklog {
		return "failed to check assignment status"
	}
	return "failed to get assignment for HTX"
}

// processor verifies HTX assignments for one connection's lifetime and
// submits verdicts back to the chain. A fresh processor is built each
// time the supervisor reconnects.
type processor struct {
	chain    *chain
	sup      *Supervisor
}

func (s *Supervisor) newProcessor() *processor {
	return &processor{chain: s.chain, sup: s}
}

// processBacklog replays RoundStarted events from before this connection
// existed, processing any assignment to this node that hasn't voted yet.
// Backlog items never trigger the post-process health check — that only
// runs after a live assignment, matching the original supervisor.
func (p *processor) processBacklog(ctx context.Context) error {
	p.sup.cfg.Logger.Printf("checking for pending assignments from before connection")

	events, err := p.chain.manager.RoundStartedEvents(ctx, chainclient.AllBlocks())
	if err != nil {
		return err
	}

	var pending []chainclient.RoundStartedEvent
	for _, e := range events {
		if containsMember(e.Members, p.sup.nodeAddress) {
			pending = append(pending, e)
		}
	}

	if len(pending) == 0 {
		p.sup.cfg.Logger.Printf("no pending assignments found")
		return nil
	}

	p.sup.cfg.Logger.Printf("found %d historical assignments, processing backlog", len(pending))
	for _, event := range pending {
		p.spawnProcessing(ctx, event, sourceBacklog, false)
	}
	p.sup.cfg.Logger.Printf("backlog processing complete")
	return nil
}

// listenForEvents subscribes for live RoundStarted events until the
// subscription ends, an error occurs, or the shutdown token fires.
func (p *processor) listenForEvents(ctx context.Context) error {
	events, errs, err := p.chain.manager.SubscribeRoundStarted(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if containsMember(event.Members, p.sup.nodeAddress) {
				p.spawnProcessing(ctx, event, sourceRealtime, true)
			}
		case err := <-errs:
			if err != nil {
				return err
			}
		case <-p.sup.token.Done():
			p.sup.cfg.Logger.Printf("shutdown signal received during event listening")
			return shutdownRequested
		}
	}
}

// spawnProcessing runs one assignment's full verify-and-submit pipeline
// in its own goroutine, first checking whether this node has already
// voted so a replayed backlog entry is a no-op.
func (p *processor) spawnProcessing(ctx context.Context, event chainclient.RoundStartedEvent, source eventSource, runPostProcess bool) {
	go func() {
		packed, err := p.chain.manager.GetVotePacked(ctx, event.HeartbeatKey, event.Round, p.sup.nodeAddress)
		if err != nil {
			p.sup.cfg.Logger.Printf("ERROR: %s: heartbeat=%s: %v", source.voteErrorMessage(), merkle.LeafHex(event.HeartbeatKey), err)
			return
		}
		if votepacking.Decode(packed).Responded {
			if source == sourceBacklog {
				p.sup.cfg.Logger.Printf("already responded to heartbeat %s, skipping", merkle.LeafHex(event.HeartbeatKey))
			}
			return
		}

		p.sup.cfg.Logger.Printf("%s: heartbeat=%s", source.receivedMessage(), merkle.LeafHex(event.HeartbeatKey))
		count, err := p.processAssignment(ctx, event)
		if err != nil {
			p.sup.cfg.Logger.Printf("ERROR: %s: heartbeat=%s: %v", source.processErrorMessage(), merkle.LeafHex(event.HeartbeatKey), err)
			return
		}
		if runPostProcess && count != nil {
			p.postProcessChecks(ctx, *count)
		}
	}()
}

// processAssignment parses the assigned raw HTX, verifies it, and submits
// a verdict proven by this node's Merkle committee-membership proof. A
// malformed payload is submitted as Failure outright — per spec invariant
// 2, every error yields a verdict, it never aborts the round for this
// member.
func (p *processor) processAssignment(ctx context.Context, event chainclient.RoundStartedEvent) (*uint64, error) {
	msg, parseErr := htx.TryParse(event.RawHTX)

	var verdict votepacking.Verdict
	if parseErr != nil {
		p.sup.cfg.Logger.Printf("ERROR: failed to parse HTX data: heartbeat=%s: %v", merkle.LeafHex(event.HeartbeatKey), parseErr)
		verdict = votepacking.VerdictFailure
	} else {
		var verifyErr error
		verdict, verifyErr = p.sup.verifier.Verify(ctx, msg)
		_ = verifyErr // folded into verdict per spec invariant 2
	}

	receipt, err := p.submitVerdict(ctx, event, verdict)
	if err != nil {
		return nil, fmt.Errorf("responding to HTX: %w", err)
	}

	count := p.sup.verifiedCount.Add(1)
	switch verdict {
	case votepacking.VerdictSuccess:
		p.sup.cfg.Logger.Printf("VALID HTX verification submitted, tx=%s", receipt.TxHash)
	case votepacking.VerdictFailure:
		p.sup.cfg.Logger.Printf("INVALID HTX verification submitted, tx=%s", receipt.TxHash)
	case votepacking.VerdictInconclusive:
		p.sup.cfg.Logger.Printf("INCONCLUSIVE HTX verification submitted, tx=%s", receipt.TxHash)
	default:
		p.sup.cfg.Logger.Printf("unexpected verdict %d submitted, tx=%s", verdict, receipt.TxHash)
	}
	if p.sup.cfg.Metrics != nil {
		p.sup.cfg.Metrics.VerifiedHTXTotal.Inc()
	}
	return &count, nil
}

// submitVerdict builds this node's committee-membership proof from the
// round's member list and submits it alongside the verdict.
func (p *processor) submitVerdict(ctx context.Context, event chainclient.RoundStartedEvent, verdict votepacking.Verdict) (*chainclient.Receipt, error) {
	tree, err := merkle.Build(p.chain.manager.Address(), event.HeartbeatKey, event.Round, event.Members)
	if err != nil {
		return nil, fmt.Errorf("building committee tree: %w", err)
	}
	proof, err := tree.ProofFor(p.sup.nodeAddress)
	if err != nil {
		return nil, fmt.Errorf("building membership proof: %w", err)
	}
	return p.chain.manager.SubmitVerdict(ctx, event.HeartbeatKey, verdict, proof.Path)
}

func (p *processor) postProcessChecks(ctx context.Context, verifiedCount uint64) {
	if err := p.sup.PrintStatus(ctx); err != nil {
		p.sup.cfg.Logger.Printf("WARNING: failed to fetch status information: %v", err)
	}
	p.sup.checkMinimumBalance(ctx)
	if err := version.Validate(p.chain.protocolConfig, p.sup.cfg.Logger); err != nil {
		p.sup.cfg.Logger.Printf("WARNING: failed to validate node version against protocol requirement: %v", err)
	}
}

func containsMember(members []common.Address, addr common.Address) bool {
	for _, m := range members {
		if m == addr {
			return true
		}
	}
	return false
}
