// Package pipeline orchestrates one payment query end to end:
// retrieval over the vendor store, the optional guardrail judgment loop,
// and the agent decision. The state machine is IDLE → RETRIEVED →
// (JUDGED |) → DECIDED; DECIDED is reached exactly once per query and no
// state survives a query except the store and the ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragguard-ai/ragguard/internal/agent"
	"github.com/ragguard-ai/ragguard/internal/audit"
	"github.com/ragguard-ai/ragguard/internal/inference"
	"github.com/ragguard-ai/ragguard/internal/judge"
	"github.com/ragguard-ai/ragguard/internal/ledger"
	"github.com/ragguard-ai/ragguard/internal/retrieval"
	"github.com/ragguard-ai/ragguard/internal/telemetry"
	"github.com/ragguard-ai/ragguard/internal/vendorstore"
)

// State names a stage of the per-query state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateRetrieved State = "RETRIEVED"
	StateJudged    State = "JUDGED"
	StateDecided   State = "DECIDED"
)

// CandidateReport is one ranked candidate plus what the guardrail did to it.
type CandidateReport struct {
	Record    vendorstore.VendorRecord `json:"record"`
	Score     float64                  `json:"score"`
	Verdict   judge.Verdict            `json:"verdict,omitempty"`
	Rationale string                   `json:"rationale,omitempty"`
	Discarded bool                     `json:"discarded"`
}

// Result is the full observable outcome of one query.
type Result struct {
	Query       string              `json:"query"`
	Guardrail   bool                `json:"guardrail"`
	States      []State             `json:"states"`
	Candidates  []CandidateReport   `json:"candidates"`
	Decision    agent.Decision      `json:"decision"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Timings     inference.Timings   `json:"-"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	store     *vendorstore.Store
	retriever *retrieval.Retriever
	judge     *judge.Judge
	agent     *agent.Agent
	ledger    *ledger.Ledger
	audit     *audit.Emitter
	telemetry *telemetry.Provider
	log       *zap.Logger

	// One query is fully resolved before the next is accepted.
	runMu sync.Mutex
}

// Deps are the pipeline's collaborators. Audit, telemetry and log may be nil.
type Deps struct {
	Store     *vendorstore.Store
	Retriever *retrieval.Retriever
	Judge     *judge.Judge
	Agent     *agent.Agent
	Ledger    *ledger.Ledger
	Audit     *audit.Emitter
	Telemetry *telemetry.Provider
	Log       *zap.Logger
}

func New(d Deps) *Pipeline {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	ldg := d.Ledger
	if ldg == nil {
		ldg = ledger.New()
	}
	return &Pipeline{
		store:     d.Store,
		retriever: d.Retriever,
		judge:     d.Judge,
		agent:     d.Agent,
		ledger:    ldg,
		audit:     d.Audit,
		telemetry: d.Telemetry,
		log:       log,
	}
}

// InsertVendor is the mutation entry point. It never inspects content; the
// store accepting anything is the attack surface under demonstration.
func (p *Pipeline) InsertVendor(name, accountID, notes string) (int64, error) {
	id, err := p.store.Insert(name, accountID, notes)
	if err != nil {
		return 0, fmt.Errorf("insert vendor: %w", err)
	}

	ev := audit.NewEvent(audit.KindVendorInserted)
	ev.VendorID = id
	ev.Name = name
	ev.AccountID = accountID
	p.audit.Emit(context.Background(), ev)

	p.log.Info("vendor inserted",
		zap.Int64("id", id),
		zap.String("name", name),
		zap.String("account_id", accountID),
	)
	return id, nil
}

// poisonFile is the on-disk shape of the attack payload.
type poisonFile struct {
	PoisonedEntries []struct {
		Name      string `json:"name"`
		AccountID string `json:"account_id"`
		Notes     string `json:"notes"`
	} `json:"poisoned_entries"`
}

// InjectPoison inserts every entry of a poison file, simulating the
// insider's write. Returns the assigned ids.
func (p *Pipeline) InjectPoison(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read poison file %s: %w", path, err)
	}
	var pf poisonFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("decode poison file %s: %w", path, err)
	}

	ids := make([]int64, 0, len(pf.PoisonedEntries))
	for _, e := range pf.PoisonedEntries {
		id, err := p.InsertVendor(e.Name, e.AccountID, e.Notes)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Vendors returns the store contents in insertion order.
func (p *Pipeline) Vendors() []vendorstore.VendorRecord {
	return p.store.All()
}

// Transactions returns the payment ledger.
func (p *Pipeline) Transactions() []ledger.Transaction {
	return p.ledger.All()
}

// RunQuery resolves one payment query. The error return covers internal
// faults only; "no vendor found" and every fail-closed path are expressed as
// a normal denied Decision, not an error.
func (p *Pipeline) RunQuery(ctx context.Context, query string, guardrailEnabled bool) (*Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	ctx, span := p.telemetry.Tracer().Start(ctx, "pipeline.run_query")
	defer span.End()

	start := time.Now()
	res := &Result{
		Query:     query,
		Guardrail: guardrailEnabled,
		States:    []State{StateIdle},
	}

	// IDLE → RETRIEVED
	retrievalStart := time.Now()
	candidates := p.retriever.Search(query, p.store.All())
	res.Timings.Retrieval = time.Since(retrievalStart)
	res.States = append(res.States, StateRetrieved)

	for _, c := range candidates {
		res.Candidates = append(res.Candidates, CandidateReport{Record: c.Record, Score: c.Score})
	}
	p.emitRanking(query, guardrailEnabled, candidates)

	// RETRIEVED → JUDGED (guardrail enabled only): walk the ranking, discard
	// UNSAFE candidates, stop at the first SAFE one or run out.
	var selected *retrieval.Candidate
	if guardrailEnabled {
		judgeStart := time.Now()
		for i, c := range candidates {
			verdict := p.judge.Classify(ctx, c)
			p.telemetry.RecordVerdict(string(verdict.Verdict))
			res.Candidates[i].Verdict = verdict.Verdict
			res.Candidates[i].Rationale = verdict.Rationale
			p.emitVerdict(query, c, verdict)

			if verdict.Verdict == judge.VerdictSafe {
				cand := c
				selected = &cand
				break
			}

			res.Candidates[i].Discarded = true
			p.emitDiscard(query, c, verdict)
			p.log.Warn("guardrail discarded candidate",
				zap.Int64("vendor_id", c.Record.ID),
				zap.String("account_id", c.Record.AccountID),
				zap.String("rationale", verdict.Rationale),
			)
		}
		res.Timings.Judge = time.Since(judgeStart)
		res.States = append(res.States, StateJudged)
	} else if len(candidates) > 0 {
		cand := candidates[0]
		selected = &cand
	}

	// RETRIEVED|JUDGED → DECIDED. A nil candidate reaches the agent as the
	// explicit "nothing safe was found" branch.
	agentStart := time.Now()
	res.Decision = p.agent.Decide(ctx, query, selected)
	res.Timings.Agent = time.Since(agentStart)
	res.States = append(res.States, StateDecided)

	if res.Decision.Outcome == agent.OutcomeApproved {
		vendor := ""
		if selected != nil {
			vendor = selected.Record.Name
		}
		tx := p.ledger.Record(query, vendor, res.Decision.AccountID)
		res.Transaction = &tx
		p.emitTransaction(tx)
	}
	p.emitDecision(query, guardrailEnabled, res.Decision)

	total := time.Since(start)
	p.telemetry.RecordQueryMetrics(
		string(res.Decision.Outcome),
		guardrailEnabled,
		float64(total.Milliseconds()),
		float64(res.Timings.Retrieval.Milliseconds()),
		float64(res.Timings.Judge.Milliseconds()),
		float64(res.Timings.Agent.Milliseconds()),
	)

	p.log.Info("query decided",
		zap.String("query", query),
		zap.Bool("guardrail", guardrailEnabled),
		zap.String("outcome", string(res.Decision.Outcome)),
		zap.String("account_id", res.Decision.AccountID),
		zap.Duration("took", total),
	)

	return res, nil
}

func (p *Pipeline) emitRanking(query string, guardrail bool, candidates []retrieval.Candidate) {
	ev := audit.NewEvent(audit.KindQueryRanked)
	ev.Query = query
	ev.Guardrail = &guardrail
	for _, c := range candidates {
		ev.Scores = append(ev.Scores, audit.RankedScore{
			VendorID:  c.Record.ID,
			Name:      c.Record.Name,
			AccountID: c.Record.AccountID,
			Score:     c.Score,
		})
	}
	p.audit.Emit(context.Background(), ev)
}

func (p *Pipeline) emitVerdict(query string, c retrieval.Candidate, v judge.Result) {
	ev := audit.NewEvent(audit.KindVerdict)
	ev.Query = query
	ev.VendorID = c.Record.ID
	ev.AccountID = c.Record.AccountID
	ev.Verdict = string(v.Verdict)
	ev.Rationale = v.Rationale
	p.audit.Emit(context.Background(), ev)
}

func (p *Pipeline) emitDiscard(query string, c retrieval.Candidate, v judge.Result) {
	ev := audit.NewEvent(audit.KindCandidateDiscarded)
	ev.Query = query
	ev.VendorID = c.Record.ID
	ev.AccountID = c.Record.AccountID
	ev.Rationale = v.Rationale
	p.audit.Emit(context.Background(), ev)
}

func (p *Pipeline) emitDecision(query string, guardrail bool, d agent.Decision) {
	ev := audit.NewEvent(audit.KindDecision)
	ev.Query = query
	ev.Guardrail = &guardrail
	ev.Outcome = string(d.Outcome)
	ev.AccountID = d.AccountID
	ev.Reason = d.Reason
	p.audit.Emit(context.Background(), ev)
}

func (p *Pipeline) emitTransaction(tx ledger.Transaction) {
	ev := audit.NewEvent(audit.KindTransaction)
	ev.Query = tx.Query
	ev.Name = tx.Vendor
	ev.AccountID = tx.AccountID
	p.audit.Emit(context.Background(), ev)
}
