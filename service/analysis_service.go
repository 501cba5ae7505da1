package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"plansight-backend/models"
)

// Event names of the analysis stream, in emission order for a run
const (
	EventStageStart    = "stage_start"
	EventSuggestion    = "suggestion"
	EventStageComplete = "stage_complete"
	EventComplete      = "complete"
	EventError         = "error"
)

// StageStartEvent signals that a stage began, either live or replayed
type StageStartEvent struct {
	StageNum    int    `json:"stageNum"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FromCache   bool   `json:"fromCache"`
}

// StageCompleteEvent signals that a stage finished
type StageCompleteEvent struct {
	StageNum        int `json:"stageNum"`
	SuggestionCount int `json:"suggestionCount"`
}

// CompleteEvent terminates a successful run
type CompleteEvent struct {
	TotalSuggestions int `json:"totalSuggestions"`
}

// ErrorEvent terminates a failed run
type ErrorEvent struct {
	Message string `json:"message"`
}

// EmitFunc delivers one event to the stream consumer. A non-nil error
// means the consumer is gone; the run stops emitting and winds down.
type EmitFunc func(event string, data interface{}) error

// errStreamClosed marks a consumer disconnect, which ends the run without
// a terminal event.
var errStreamClosed = errors.New("stream closed")

// ContextRetriever supplies policy context for a stage focus
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, corpus, focus string, limit int) []models.PolicyChunk
}

// Generator is the opaque generative-model call: prompt in, raw text out
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnalysisCacheStore persists per-region stage results
type AnalysisCacheStore interface {
	Get(ctx context.Context, regionID string) (*models.AnalysisCache, error)
	UpsertStage(ctx context.Context, regionID, council string, bounds models.Bounds, result models.StageResult) error
	Clear(ctx context.Context, regionID *string) (int64, error)
}

const (
	defaultRetrievalTimeout  = 10 * time.Second
	defaultGenerationTimeout = 2 * time.Minute
	defaultCachePacing       = 400 * time.Millisecond

	// chunks retrieved per stage, and the character bound applied to each
	// before it enters the prompt
	contextChunkLimit = 6
	chunkCharLimit    = 1200
)

// AnalysisService drives the fixed stage sequence for a region, consulting
// the cache, invoking retrieval and generation, normalising output and
// emitting lifecycle events.
type AnalysisService struct {
	cache     AnalysisCacheStore
	retriever ContextRetriever
	generator Generator

	retrievalTimeout  time.Duration
	generationTimeout time.Duration
	cachePacing       time.Duration

	mu          sync.Mutex
	regionLocks map[string]*sync.Mutex
}

// AnalysisServiceOption is a functional option for AnalysisService
type AnalysisServiceOption func(*AnalysisService)

// WithCacheStore sets the analysis cache store
func WithCacheStore(store AnalysisCacheStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.cache = store
	}
}

// WithRetriever sets the context retriever
func WithRetriever(r ContextRetriever) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.retriever = r
	}
}

// WithGenerator sets the generative model client
func WithGenerator(g Generator) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.generator = g
	}
}

// WithRetrievalTimeout sets the per-stage retrieval deadline
func WithRetrievalTimeout(d time.Duration) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.retrievalTimeout = d
	}
}

// WithGenerationTimeout sets the per-stage deadline on the model call
func WithGenerationTimeout(d time.Duration) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.generationTimeout = d
	}
}

// WithCachePacing sets the artificial delay between cache-sourced stages
func WithCachePacing(d time.Duration) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.cachePacing = d
	}
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(opts ...AnalysisServiceOption) *AnalysisService {
	s := &AnalysisService{
		retrievalTimeout:  defaultRetrievalTimeout,
		generationTimeout: defaultGenerationTimeout,
		cachePacing:       defaultCachePacing,
		regionLocks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the full stage sequence for a request, emitting events as
// results become available. Stages run strictly sequentially; suggestions
// are emitted in production order. Recoverable failures (retrieval,
// generation, parsing) degrade individual stages to zero suggestions; only
// an error escaping the stage loop terminates the stream with a single
// error event.
func (s *AnalysisService) Run(ctx context.Context, req models.AnalysisRequest, emit EmitFunc) error {
	if s.cache == nil || s.generator == nil {
		return fmt.Errorf("analysis service not fully configured")
	}

	cached, err := s.cache.Get(ctx, req.RegionID)
	if err != nil {
		log.Printf("Warning: Failed to read analysis cache for %s: %v. Running all stages live.", req.RegionID, err)
		cached = nil
	}

	var all []*models.Suggestion
	var summary strings.Builder
	liveStages := make([]models.StageResult, 0, len(Stages))
	replayedStages := make(map[int]models.StageResult)

	for _, stage := range Stages {
		var cachedResult *models.StageResult
		if cached != nil && !req.Force {
			if result, ok := cached.Stages[stage.Num]; ok {
				cachedResult = &result
			}
		}

		if cachedResult != nil {
			replayed, err := s.replayStage(ctx, stage, cachedResult, emit)
			if err != nil {
				return nil // consumer disconnected
			}
			all = append(all, replayed...)
			replayedStages[stage.Num] = *cachedResult
			continue
		}

		suggestions, runErr := s.runLiveStage(ctx, req, stage, summary.String(), emit)
		if runErr != nil {
			if errors.Is(runErr, errStreamClosed) {
				return nil
			}
			if emitErr := emit(EventError, ErrorEvent{Message: runErr.Error()}); emitErr != nil {
				return nil
			}
			return runErr
		}

		result := models.StageResult{
			StageNum:    stage.Num,
			Name:        stage.Name,
			Description: stage.Description,
			Suggestions: dereference(suggestions),
		}
		liveStages = append(liveStages, result)

		for _, sg := range suggestions {
			summary.WriteString(summarizeSuggestion(sg))
			summary.WriteString("\n")
		}
		all = append(all, suggestions...)
	}

	touched := resolveRelations(all)

	// Persist the resolved parent/child links so cached replays and the
	// read-back endpoint serve the same suggestions a full run produced.
	// Replayed stages are re-written too when resolution linked them to a
	// live suggestion, so a cached parent carries its new back-link.
	for i := range liveStages {
		liveStages[i].Suggestions = resolvedSuggestions(all, liveStages[i].StageNum)
		if err := s.upsertStage(ctx, req, liveStages[i]); err != nil {
			log.Printf("Warning: Failed to persist resolved links for stage %d: %v", liveStages[i].StageNum, err)
		}
	}
	for num, result := range replayedStages {
		if _, ok := touched[num]; !ok {
			continue
		}
		result.Suggestions = resolvedSuggestions(all, num)
		if err := s.upsertStage(ctx, req, result); err != nil {
			log.Printf("Warning: Failed to persist resolved links for stage %d: %v", num, err)
		}
	}

	if err := emit(EventComplete, CompleteEvent{TotalSuggestions: len(all)}); err != nil {
		return nil
	}
	return nil
}

// replayStage re-emits a cache-sourced stage in its original order, then
// waits the pacing delay so a burst of cached stages does not land on the
// consumer in one instant.
func (s *AnalysisService) replayStage(ctx context.Context, stage Stage, result *models.StageResult, emit EmitFunc) ([]*models.Suggestion, error) {
	err := emit(EventStageStart, StageStartEvent{
		StageNum:    stage.Num,
		Name:        stage.Name,
		Description: stage.Description,
		FromCache:   true,
	})
	if err != nil {
		return nil, err
	}

	replayed := make([]*models.Suggestion, 0, len(result.Suggestions))
	for i := range result.Suggestions {
		suggestion := result.Suggestions[i]
		if err := emit(EventSuggestion, &suggestion); err != nil {
			return nil, err
		}
		replayed = append(replayed, &suggestion)
	}

	err = emit(EventStageComplete, StageCompleteEvent{
		StageNum:        stage.Num,
		SuggestionCount: len(result.Suggestions),
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(s.cachePacing):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return replayed, nil
}

// runLiveStage executes one stage against the model. A malformed or empty
// generation response yields zero suggestions and the run moves on; only
// cache persistence failures escape to the run level.
func (s *AnalysisService) runLiveStage(
	ctx context.Context,
	req models.AnalysisRequest,
	stage Stage,
	summary string,
	emit EmitFunc,
) ([]*models.Suggestion, error) {
	err := emit(EventStageStart, StageStartEvent{
		StageNum:    stage.Num,
		Name:        stage.Name,
		Description: stage.Description,
		FromCache:   false,
	})
	if err != nil {
		return nil, errStreamClosed
	}

	chunks := s.retrieveWithTimeout(ctx, req.Corpus, stage.Focus)
	prompt := buildStagePrompt(req, stage, chunks, summary)

	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	response, genErr := s.generator.Generate(genCtx, prompt)
	cancel()
	if genErr != nil {
		log.Printf("Warning: Generation failed for stage %d: %v. Recording zero suggestions.", stage.Num, genErr)
		response = "[]"
	}

	suggestions := make([]*models.Suggestion, 0)
	for _, raw := range parseRawSuggestions(response) {
		if normalized := normalizeSuggestion(raw, stage); normalized != nil {
			suggestions = append(suggestions, normalized)
		}
	}

	result := models.StageResult{
		StageNum:    stage.Num,
		Name:        stage.Name,
		Description: stage.Description,
		Suggestions: dereference(suggestions),
	}
	if err := s.upsertStage(ctx, req, result); err != nil {
		return nil, err
	}

	for _, suggestion := range suggestions {
		if err := emit(EventSuggestion, suggestion); err != nil {
			return nil, errStreamClosed
		}
	}

	err = emit(EventStageComplete, StageCompleteEvent{
		StageNum:        stage.Num,
		SuggestionCount: len(suggestions),
	})
	if err != nil {
		return nil, errStreamClosed
	}

	return suggestions, nil
}

// retrieveWithTimeout races the retrieval call against a stage-level timer.
// A slow vector backend must never stall the pipeline: on timeout the stage
// proceeds with an ungrounded prompt.
func (s *AnalysisService) retrieveWithTimeout(ctx context.Context, corpus, focus string) []models.PolicyChunk {
	if corpus == "" || s.retriever == nil {
		return nil
	}

	resultCh := make(chan []models.PolicyChunk, 1)
	go func() {
		resultCh <- s.retriever.RetrieveContext(ctx, corpus, focus, contextChunkLimit)
	}()

	select {
	case chunks := <-resultCh:
		return chunks
	case <-time.After(s.retrievalTimeout):
		log.Printf("Warning: Retrieval timed out for focus %q. Continuing with empty context.", focus)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// upsertStage performs the read-modify-write cache update under the
// region's lock so concurrent runs against the same region cannot
// interleave a single stage write.
func (s *AnalysisService) upsertStage(ctx context.Context, req models.AnalysisRequest, result models.StageResult) error {
	lock := s.regionLock(req.RegionID)
	lock.Lock()
	defer lock.Unlock()

	return s.cache.UpsertStage(ctx, req.RegionID, req.Council, req.Bounds, result)
}

func (s *AnalysisService) regionLock(regionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.regionLocks[regionID]
	if !ok {
		lock = &sync.Mutex{}
		s.regionLocks[regionID] = lock
	}
	return lock
}

// GetCached returns the region's cache record, or nil when no stage has
// ever completed for it.
func (s *AnalysisService) GetCached(ctx context.Context, regionID string) (*models.AnalysisCache, error) {
	return s.cache.Get(ctx, regionID)
}

// ClearCache removes one region's cache record, or every record when
// regionID is nil. Idempotent: clearing an absent region deletes zero rows.
func (s *AnalysisService) ClearCache(ctx context.Context, regionID *string) (int64, error) {
	return s.cache.Clear(ctx, regionID)
}

// buildStagePrompt combines the region bounds, retrieved policy context,
// the rolling summary of earlier findings and the stage focus into one
// generation prompt.
func buildStagePrompt(req models.AnalysisRequest, stage Stage, chunks []models.PolicyChunk, summary string) string {
	var contextText strings.Builder
	for _, chunk := range chunks {
		text := chunk.Text
		if len(text) > chunkCharLimit {
			text = text[:chunkCharLimit] + "..."
		}
		contextText.WriteString(fmt.Sprintf("[%s p.%d] %s\n\n", strings.ToUpper(string(chunk.SectionType)), chunk.Page, text))
	}
	if contextText.Len() == 0 {
		contextText.WriteString("(no policy context retrieved)\n")
	}

	if summary == "" {
		summary = "(none yet)\n"
	}

	return fmt.Sprintf(`You are a senior planning officer analysing a region for %s.

ANALYSIS STAGE: %s
%s

REGION BOUNDS (WGS84):
west=%f south=%f east=%f north=%f

LOCAL POLICY CONTEXT:
%s
FINDINGS FROM EARLIER STAGES:
%s
TASK:
Identify spatial suggestions for this stage within the region bounds. Ground
every suggestion in the policy context above when it applies, and do not
duplicate findings already listed from earlier stages. If no evidence
supports a suggestion for this stage, return an empty array.

Return a JSON array of suggestion objects:
[
  {
    "title": "short human title",
    "category": "%s",
    "status": "existing or proposed",
    "rationale": "one-sentence rationale",
    "reasoning": "multi-paragraph reasoning",
    "priority": "high, medium or low",
    "sources": ["evidence citations"],
    "policyRef": "governing policy reference",
    "centerPoint": [longitude, latitude],
    "radiusM": 250,
    "problem": "problem statement",
    "projectedOutcome": "projected overall outcome",
    "relatedTo": "title of a related earlier suggestion, or omit",
    "implementation": [
      {
        "type": "intervention type",
        "title": "option title",
        "description": "what would be built or changed",
        "centerPoint": [longitude, latitude],
        "radiusM": 100,
        "height": 12,
        "color": "#88AA44",
        "policyBasis": "policy reference",
        "order": 1,
        "effect": "projected effect"
      }
    ]
  }
]

Return ONLY valid JSON, no markdown, no explanations.`,
		req.Council,
		stage.Name,
		stage.Description,
		req.Bounds.West, req.Bounds.South, req.Bounds.East, req.Bounds.North,
		contextText.String(),
		summary,
		stage.Category,
	)
}

// dereference copies pointer suggestions into a value slice for storage
func dereference(suggestions []*models.Suggestion) []models.Suggestion {
	out := make([]models.Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, *s)
	}
	return out
}

// resolvedSuggestions collects the run's suggestions for one stage after
// relation resolution, preserving production order.
func resolvedSuggestions(all []*models.Suggestion, stageNum int) []models.Suggestion {
	out := make([]models.Suggestion, 0)
	for _, s := range all {
		if s.Stage == stageNum {
			out = append(out, *s)
		}
	}
	return out
}
