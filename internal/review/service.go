package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/xaidecide/internal/decision"
	"github.com/davidahmann/xaidecide/internal/ledger"
	"github.com/davidahmann/xaidecide/internal/metrics"
	"github.com/davidahmann/xaidecide/internal/normalize"
	"github.com/davidahmann/xaidecide/internal/prompt"
	"github.com/davidahmann/xaidecide/pkg/types"
)

var (
	ErrInvalidDecision   = errors.New("decision must be approved or rejected")
	ErrInvalidTransition = errors.New("application is not awaiting review")
	ErrEmptyExplanation  = errors.New("explanation text is empty")
)

// Evaluator runs the model evaluation for submitted applications.
type Evaluator interface {
	Evaluate(ctx context.Context, domain string, applicant map[string]any) (types.Verdict, error)
	EvaluateBatch(ctx context.Context, domain string, applicants []map[string]any) ([]types.Verdict, error)
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// NewID generates application ids. Defaults to a short uuid prefix.
	NewID func() string
}

// createAttempts bounds how many ids Submit tries before giving up.
const createAttempts = 5

// Service owns the application lifecycle: submit, review, edit.
type Service struct {
	store  ledger.Store
	engine Evaluator
	model  decision.Model
	locks  *keyedMutex
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store ledger.Store, engine Evaluator, model decision.Model, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = newApplicationID
	}
	return &Service{
		store:  store,
		engine: engine,
		model:  model,
		locks:  newKeyedMutex(),
		log:    log,
		now:    now,
		newID:  newID,
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Submit stores a new application, evaluates it and leaves it awaiting review.
func (s *Service) Submit(ctx context.Context, domain string, data map[string]any) (types.Application, error) {
	d, err := types.ParseDomain(domain)
	if err != nil {
		return types.Application{}, err
	}
	if data == nil {
		data = map[string]any{}
	}

	app := types.Application{
		Domain:    d,
		Data:      data,
		Status:    types.AppPendingAI,
		CreatedAt: s.timestamp(),
	}
	if err := s.create(&app); err != nil {
		return types.Application{}, err
	}

	unlock := s.locks.Lock(app.ID)
	defer unlock()

	verdict, err := s.engine.Evaluate(ctx, string(d), data)
	if err != nil {
		return types.Application{}, err
	}

	app.Status = types.AppPendingHuman
	app.AIResult = &verdict
	if err := s.put(app); err != nil {
		return types.Application{}, err
	}
	return app, nil
}

// SubmitBatch stores and evaluates several applications of one domain. The
// batch is evaluated in one EvaluateBatch call so chunking and size limits
// apply.
func (s *Service) SubmitBatch(ctx context.Context, domain string, data []map[string]any) ([]types.Application, error) {
	d, err := types.ParseDomain(domain)
	if err != nil {
		return nil, err
	}

	apps := make([]types.Application, len(data))
	for i, item := range data {
		if item == nil {
			item = map[string]any{}
			data[i] = item
		}
		apps[i] = types.Application{
			Domain:    d,
			Data:      item,
			Status:    types.AppPendingAI,
			CreatedAt: s.timestamp(),
		}
	}

	verdicts, err := s.engine.EvaluateBatch(ctx, string(d), data)
	if err != nil {
		return nil, err
	}

	// Nothing is stored until the whole batch has been evaluated.
	for i := range apps {
		apps[i].Status = types.AppPendingHuman
		apps[i].AIResult = &verdicts[i]
		if err := s.create(&apps[i]); err != nil {
			return nil, err
		}
	}
	return apps, nil
}

// Review records the human decision. A decision that disagrees with the model
// is an override and gets a customer-facing explanation.
func (s *Service) Review(ctx context.Context, id, humanDecision, comment string) (types.Application, error) {
	human, ok := types.ParseDecisionStatus(humanDecision)
	if !ok {
		return types.Application{}, fmt.Errorf("%w: %q", ErrInvalidDecision, humanDecision)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.Get(id)
	if err != nil {
		return types.Application{}, err
	}
	if DetermineNextAction(app.Status) != ActionAwaitReview || !CanAdvance(app.Status, FinalStatus(human)) {
		return types.Application{}, fmt.Errorf("%w: status %s", ErrInvalidTransition, app.Status)
	}

	var aiStatus types.DecisionStatus
	if app.AIResult != nil {
		aiStatus = app.AIResult.Decision.Status
	}
	isOverride := aiStatus != "" && !strings.EqualFold(string(aiStatus), string(human))

	app.Status = FinalStatus(human)
	app.FinalDecision = human
	app.ReviewerComment = nil
	if c := strings.TrimSpace(comment); c != "" {
		app.ReviewerComment = &c
	}
	reviewedAt := s.timestamp()
	app.ReviewedAt = &reviewedAt
	app.IsOverride = isOverride
	app.OverrideExplanation = nil
	if isOverride {
		exp := s.explainOverride(ctx, app, aiStatus, human, comment)
		app.OverrideExplanation = &exp
	}

	if err := s.put(app); err != nil {
		return types.Application{}, err
	}
	metrics.RecordReview(string(app.Domain), isOverride)
	return app, nil
}

// EditExplanation replaces the agent-facing explanation. Status and verdict
// stay as they are.
func (s *Service) EditExplanation(ctx context.Context, id, text string) (types.Application, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Application{}, ErrEmptyExplanation
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.Get(id)
	if err != nil {
		return types.Application{}, err
	}
	app.AgentExplanation = &text
	app.ExplanationEdited = true
	if err := s.put(app); err != nil {
		return types.Application{}, err
	}
	return app, nil
}

func (s *Service) Get(id string) (types.Application, error) {
	rec, ok, err := s.store.GetApplication(id)
	if err != nil {
		return types.Application{}, fmt.Errorf("load application %s: %w", id, err)
	}
	if !ok {
		return types.Application{}, fmt.Errorf("application %s: %w", id, types.ErrNotFound)
	}
	return decodeApplication(rec)
}

// List returns applications newest first. filter is "", "pending", "history"
// or an exact status.
func (s *Service) List(filter string) ([]types.Application, error) {
	recs, err := s.store.ListApplications(StatusFilter(strings.ToLower(strings.TrimSpace(filter)))...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	out := make([]types.Application, 0, len(recs))
	for _, rec := range recs {
		app, err := decodeApplication(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, nil
}

func (s *Service) explainOverride(ctx context.Context, app types.Application, aiStatus, human types.DecisionStatus, comment string) types.OverrideExplanation {
	if s.model != nil {
		res := s.model.Call(ctx, prompt.BuildOverride(app.Domain, app.Data, aiStatus, human, comment))
		if res.OK() {
			if obj, ok := normalize.ExtractObject(res.Text); ok {
				if exp, ok := overrideFromModel(obj); ok {
					return exp
				}
			}
		}
		s.log.Warn("override explanation unavailable, using template", zap.String("app_id", app.ID), zap.String("kind", string(res.Failure)))
	}
	return OverrideTemplate(aiStatus, human, comment)
}

// OverrideTemplate is the deterministic explanation used when the model
// cannot produce one.
func OverrideTemplate(aiStatus, human types.DecisionStatus, comment string) types.OverrideExplanation {
	reasoning := strings.TrimSpace(comment)
	if reasoning == "" {
		reasoning = "Agent determined a different decision was appropriate"
	}
	return types.OverrideExplanation{
		Summary: fmt.Sprintf("Agent overrode AI recommendation from %s to %s",
			strings.ToUpper(string(aiStatus)), strings.ToUpper(string(human))),
		DetailedReasoning: reasoning,
		NextSteps:         []string{"Contact support for more details"},
		Conditions:        []string{},
		OverrideContext:   "Human review superseded AI analysis",
		Source:            types.OverrideSourceTemplate,
	}
}

func overrideFromModel(obj map[string]any) (types.OverrideExplanation, bool) {
	summary, _ := obj["summary"].(string)
	if strings.TrimSpace(summary) == "" {
		return types.OverrideExplanation{}, false
	}
	detailed, _ := obj["detailed_reasoning"].(string)
	overrideCtx, _ := obj["override_context"].(string)
	return types.OverrideExplanation{
		Summary:           summary,
		DetailedReasoning: detailed,
		NextSteps:         stringSlice(obj["next_steps"]),
		Conditions:        stringSlice(obj["conditions"]),
		OverrideContext:   overrideCtx,
		Source:            types.OverrideSourceModel,
	}, true
}

func stringSlice(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if item == nil {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(val); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// create assigns app a fresh id and inserts it. An id already taken by
// another application is replaced and the insert retried.
func (s *Service) create(app *types.Application) error {
	for attempt := 0; attempt < createAttempts; attempt++ {
		app.ID = s.newID()
		rec, err := s.record(*app)
		if err != nil {
			return err
		}
		err = s.store.CreateApplication(rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrDuplicateID) {
			return fmt.Errorf("store application %s: %w", app.ID, err)
		}
		s.log.Warn("application id collision, retrying", zap.String("app_id", app.ID), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("store application: %w after %d attempts", ledger.ErrDuplicateID, createAttempts)
}

func (s *Service) put(app types.Application) error {
	rec, err := s.record(app)
	if err != nil {
		return err
	}
	if err := s.store.PutApplication(rec); err != nil {
		return fmt.Errorf("store application %s: %w", app.ID, err)
	}
	return nil
}

func (s *Service) record(app types.Application) (ledger.ApplicationRecord, error) {
	body, err := json.Marshal(app)
	if err != nil {
		return ledger.ApplicationRecord{}, fmt.Errorf("encode application: %w", err)
	}
	return ledger.ApplicationRecord{
		AppID:     app.ID,
		Domain:    string(app.Domain),
		Status:    string(app.Status),
		BodyJSON:  body,
		CreatedAt: app.CreatedAt,
		UpdatedAt: s.timestamp(),
	}, nil
}

func decodeApplication(rec ledger.ApplicationRecord) (types.Application, error) {
	var app types.Application
	if err := json.Unmarshal(rec.BodyJSON, &app); err != nil {
		return types.Application{}, fmt.Errorf("decode application %s: %w", rec.AppID, err)
	}
	return app, nil
}

func newApplicationID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "APP-" + strings.ToUpper(raw[:8])
}
