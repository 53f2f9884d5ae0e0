package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/xaidecide/internal/contextstore"
	"github.com/davidahmann/xaidecide/internal/gateway"
	"github.com/davidahmann/xaidecide/internal/ledger"
	"github.com/davidahmann/xaidecide/internal/metrics"
	"github.com/davidahmann/xaidecide/internal/normalize"
	"github.com/davidahmann/xaidecide/internal/prompt"
	"github.com/davidahmann/xaidecide/pkg/types"
)

const (
	DefaultEngineID        = "universal-xai-http"
	DefaultChunkSize       = 5
	DefaultMaxItems        = 50
	DefaultMaxExplanations = 200
)

var ErrBatchTooLarge = errors.New("batch too large")

// Model is the part of the gateway the engine needs.
type Model interface {
	Call(ctx context.Context, prompt string) gateway.Result
}

type Options struct {
	EngineID        string
	ChunkSize       int
	MaxItems        int
	MaxExplanations int
	Logger          *zap.Logger
	Now             func() time.Time
}

type Engine struct {
	store *contextstore.Store
	model Model
	audit ledger.Store
	opts  Options
	log   *zap.Logger
}

func NewEngine(ctxStore *contextstore.Store, model Model, audit ledger.Store, opts Options) *Engine {
	if opts.EngineID == "" {
		opts.EngineID = DefaultEngineID
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MaxExplanations <= 0 {
		opts.MaxExplanations = DefaultMaxExplanations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: ctxStore, model: model, audit: audit, opts: opts, log: log}
}

// MaxItems is the largest batch EvaluateBatch accepts.
func (e *Engine) MaxItems() int { return e.opts.MaxItems }

// Evaluate runs one applicant through the model. Model failures never
// surface; they resolve to the fallback verdict. Only an unknown domain is
// returned as an error.
func (e *Engine) Evaluate(ctx context.Context, domain string, applicant map[string]any) (types.Verdict, error) {
	d, err := types.ParseDomain(domain)
	if err != nil {
		return types.Verdict{}, err
	}

	policies, memory := e.store.PromptContext(d)
	res := e.model.Call(ctx, prompt.BuildEvaluation(d, applicant, policies, memory))

	verdict, parsed := normalize.Fallback(), false
	if res.OK() {
		verdict, parsed = normalize.ExtractVerdict(res.Text)
		if !parsed {
			e.log.Warn("model output unusable", zap.String("domain", string(d)), zap.String("preview", preview(res.Text)))
		}
	}
	verdict.Counterfactuals = normalize.NormalizeCounterfactuals(verdict.Counterfactuals)
	verdict.DecisionType = d
	verdict.Applicant = applicant

	now := e.opts.Now().UTC().Format(time.RFC3339)

	if err := e.store.RecordDecision(d, verdict.Decision.Status, verdict.Decision.Reasoning); err != nil {
		e.log.Warn("record decision memory", zap.String("domain", string(d)), zap.Error(err))
	}
	if err := e.persistExplanation(d, applicant, verdict, now); err != nil {
		e.log.Warn("store explanation", zap.String("domain", string(d)), zap.Error(err))
	}

	verdict.Audit = &types.Audit{Engine: e.opts.EngineID, Timestamp: now}
	metrics.RecordDecision(string(d), string(verdict.Decision.Status), !parsed)
	return verdict, nil
}

// EvaluateBatch evaluates applicants in chunks. Items inside a chunk run
// concurrently; chunks run one after another. Results keep input order.
func (e *Engine) EvaluateBatch(ctx context.Context, domain string, applicants []map[string]any) ([]types.Verdict, error) {
	if _, err := types.ParseDomain(domain); err != nil {
		return nil, err
	}
	if len(applicants) > e.opts.MaxItems {
		return nil, fmt.Errorf("%w: %d items, max %d", ErrBatchTooLarge, len(applicants), e.opts.MaxItems)
	}

	out := make([]types.Verdict, len(applicants))
	for start := 0; start < len(applicants); start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, len(applicants))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := e.Evaluate(ctx, domain, applicants[i])
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Explanations returns stored audit records, most recent first.
func (e *Engine) Explanations(limit int) ([]types.ExplanationRecord, error) {
	recs, err := e.audit.ListExplanations(limit)
	if err != nil {
		return nil, fmt.Errorf("list explanations: %w", err)
	}
	out := make([]types.ExplanationRecord, 0, len(recs))
	for _, rec := range recs {
		var exp types.ExplanationRecord
		if err := json.Unmarshal(rec.BodyJSON, &exp); err != nil {
			return nil, fmt.Errorf("decode explanation %s: %w", rec.ExplanationID, err)
		}
		out = append(out, exp)
	}
	return out, nil
}

func (e *Engine) persistExplanation(d types.Domain, applicant map[string]any, verdict types.Verdict, now string) error {
	exp, err := BuildExplanation(d, applicant, verdict, now)
	if err != nil {
		return err
	}
	body, err := json.Marshal(exp)
	if err != nil {
		return err
	}
	return e.audit.PushExplanation(ledger.ExplanationRecord{
		ExplanationID: exp.ID,
		Domain:        string(d),
		BodyJSON:      body,
		BodyDigest:    exp.Digest,
		CreatedAt:     now,
	}, e.opts.MaxExplanations)
}

func preview(s string) string {
	const n = 200
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
