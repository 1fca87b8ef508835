package discovery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/types"
)

const instrumentationName = "github.com/BaSui01/agentdispatch/agent/discovery"

// Score weights.
const (
	availabilityWeight = 0.3
	performanceWeight  = 0.3
	relevanceWeight    = 0.4
)

// DefaultTypeKeywords maps agent types to the domain keywords they serve.
// General agents get no type bonus.
var DefaultTypeKeywords = map[types.AgentType][]string{
	types.AgentTypeCode:       {"code", "coding", "program", "software", "develop", "debug", "api", "refactor"},
	types.AgentTypeWriting:    {"writ", "content", "document", "copy", "article", "blog", "edit"},
	types.AgentTypeAnalysis:   {"analy", "data", "statistic", "report", "metric", "insight"},
	types.AgentTypePlanning:   {"plan", "strategy", "schedul", "roadmap", "project", "organiz"},
	types.AgentTypeResearch:   {"research", "investigat", "study", "literature", "survey", "search"},
	types.AgentTypeAutomation: {"automat", "workflow", "script", "pipeline", "integrat", "deploy"},
}

// CapabilityMatcher scores and ranks agents against task requirements.
// Every public method except AnalyzeAgentCapabilities degrades to an empty
// result on failure; callers cannot tell "no match" from "matcher failure".
type CapabilityMatcher struct {
	registry AgentRegistry
	config   *MatcherConfig
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	now func() time.Time
}

// MatcherConfig holds configuration for the capability matcher.
type MatcherConfig struct {
	// MinScoreThreshold is the score CanAgentHandleTask requires.
	MinScoreThreshold float64 `json:"min_score_threshold" yaml:"min_score_threshold"`

	// TypeKeywords overrides DefaultTypeKeywords per agent type.
	TypeKeywords map[types.AgentType][]string `json:"type_keywords,omitempty" yaml:"type_keywords,omitempty"`
}

// DefaultMatcherConfig returns a MatcherConfig with sensible defaults.
func DefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		MinScoreThreshold: 30.0,
	}
}

// NewCapabilityMatcher creates a new capability matcher.
func NewCapabilityMatcher(registry AgentRegistry, config *MatcherConfig, logger *zap.Logger) *CapabilityMatcher {
	if config == nil {
		config = DefaultMatcherConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CapabilityMatcher{
		registry: registry,
		config:   config,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "capability_matcher")),
		now:      time.Now,
	}
}

// SetMetrics attaches a metrics collector.
func (m *CapabilityMatcher) SetMetrics(c *metrics.Collector) {
	m.metrics = c
}

// Registry returns the registry the matcher reads from.
func (m *CapabilityMatcher) Registry() AgentRegistry {
	return m.registry
}

// =============================================================================
// Matching
// =============================================================================

// FindMatchingAgents ranks every agent that can accept a task, best first.
// Equal scores keep registry order.
func (m *CapabilityMatcher) FindMatchingAgents(ctx context.Context, req types.TaskRequirements) []*AgentMatch {
	start := m.now()
	ctx, span := m.tracer.Start(ctx, "discovery.FindMatchingAgents",
		trace.WithAttributes(
			attribute.String("task.domain", req.Domain),
			attribute.String("task.priority", string(req.Priority)),
			attribute.Int("task.required_capabilities", len(req.RequiredCapabilities)),
		))
	defer span.End()

	agents, err := m.registry.GetAvailableAgents(ctx)
	if err != nil {
		m.logger.Warn("failed to load available agents", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry unavailable")
		m.metrics.RecordMatch("find_matching", "error", 0, m.now().Sub(start))
		return nil
	}

	matches := m.rank(agents, req)
	span.SetAttributes(
		attribute.Int("match.candidates", len(agents)),
		attribute.Int("match.results", len(matches)),
	)

	outcome := "matched"
	if len(matches) == 0 {
		outcome = "empty"
	}
	m.metrics.RecordMatch("find_matching", outcome, len(agents), m.now().Sub(start))

	m.logger.Debug("agents ranked",
		zap.String("domain", req.Domain),
		zap.Int("candidates", len(agents)),
		zap.Int("matches", len(matches)),
	)
	return matches
}

// FindBestMatch returns the head of the ranking, or nil.
func (m *CapabilityMatcher) FindBestMatch(ctx context.Context, req types.TaskRequirements) *AgentMatch {
	matches := m.FindMatchingAgents(ctx, req)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// FindBackupAgents returns ranking positions 2..n+1.
func (m *CapabilityMatcher) FindBackupAgents(ctx context.Context, req types.TaskRequirements, n int) []*AgentMatch {
	if n <= 0 {
		return nil
	}
	matches := m.FindMatchingAgents(ctx, req)
	if len(matches) <= 1 {
		return nil
	}
	end := n + 1
	if end > len(matches) {
		end = len(matches)
	}
	return matches[1:end]
}

// CanAgentHandleTask re-scores one agent and compares it with the threshold.
func (m *CapabilityMatcher) CanAgentHandleTask(ctx context.Context, agentID string, req types.TaskRequirements) bool {
	agent, err := m.registry.GetByID(ctx, agentID)
	if err != nil {
		m.logger.Warn("cannot evaluate agent", zap.String("agent_id", agentID), zap.Error(err))
		return false
	}

	match, ok := m.safeScore(agent, req, m.now())
	if !ok {
		return false
	}
	return match.Score >= m.config.MinScoreThreshold
}

// ScoreAgent scores a single snapshot without consulting the registry.
// It returns nil if scoring fails.
func (m *CapabilityMatcher) ScoreAgent(agent *types.Agent, req types.TaskRequirements) *AgentMatch {
	if agent == nil {
		return nil
	}
	match, _ := m.safeScore(agent, req, m.now())
	return match
}

// AnalyzeAgentCapabilities builds a reporting profile. Unlike the other
// methods it returns an error for an unknown agent.
func (m *CapabilityMatcher) AnalyzeAgentCapabilities(ctx context.Context, agentID string) (*CapabilityProfile, error) {
	agent, err := m.registry.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("analyze agent capabilities: %w", err)
	}

	specs := append([]types.Specialization(nil), agent.Specializations...)
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].SkillLevel > specs[j].SkillLevel
	})
	domains := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		d := strings.ToLower(s.Domain)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, s.Domain)
	}

	return &CapabilityProfile{
		AgentID:         agent.ID,
		AgentName:       agent.Name,
		AgentType:       agent.Type,
		Capabilities:    append([]string(nil), agent.Capabilities...),
		Specializations: specs,
		TopDomains:      domains,
		SuccessRate:     agent.SuccessRate(),
		TotalTasks:      agent.TotalTasks(),
		AvgResponseTime: agent.AvgResponseTime.String(),
		Status:          agent.Status,
		CurrentTasks:    agent.CurrentTasks,
		MaxTasks:        agent.MaxConcurrentTasks,
		LoadRatio:       agent.LoadRatio(),
		CanAcceptTask:   agent.CanAcceptTask(),
	}, nil
}

// =============================================================================
// Scoring
// =============================================================================

// rank scores agents that can accept a task and sorts them best first.
func (m *CapabilityMatcher) rank(agents []*types.Agent, req types.TaskRequirements) []*AgentMatch {
	now := m.now()
	matches := make([]*AgentMatch, 0, len(agents))
	for _, agent := range agents {
		if agent == nil || !agent.CanAcceptTask() {
			continue
		}
		if match, ok := m.safeScore(agent, req, now); ok {
			matches = append(matches, match)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// safeScore isolates a single bad agent record from the batch.
func (m *CapabilityMatcher) safeScore(agent *types.Agent, req types.TaskRequirements, now time.Time) (match *AgentMatch, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if agent != nil {
				id = agent.ID
			}
			m.logger.Error("scoring agent panicked",
				zap.String("agent_id", id),
				zap.Any("panic", r),
			)
			match, ok = nil, false
		}
	}()
	return m.score(agent, req, now), true
}

func (m *CapabilityMatcher) score(agent *types.Agent, req types.TaskRequirements, now time.Time) *AgentMatch {
	match := &AgentMatch{Agent: agent}

	match.AvailabilityScore = availabilityScore(agent, now)
	match.PerformanceScore = performanceScore(agent)
	match.RelevanceScore, match.MatchedCapabilities, match.MatchedSpecializations = m.relevanceScore(agent, req)

	weighted := availabilityWeight*match.AvailabilityScore +
		performanceWeight*match.PerformanceScore +
		relevanceWeight*match.RelevanceScore
	// Not clamped: a critical task may push the score past 100.
	match.Score = weighted * req.Priority.Multiplier()

	match.PrimaryReason = primaryReason(match)
	match.Concerns = concerns(agent, req, match)
	return match
}

// availabilityScore is free capacity in percent plus a recency bonus,
// clamped to [0, 100].
func availabilityScore(agent *types.Agent, now time.Time) float64 {
	if !agent.CanAcceptTask() {
		return 0
	}

	score := clamp((1-agent.LoadRatio())*100, 0, 100)
	if !agent.LastActiveAt.IsZero() {
		switch since := now.Sub(agent.LastActiveAt); {
		case since < time.Hour:
			score += 10
		case since < 24*time.Hour:
			score += 5
		}
	}
	return clamp(score, 0, 100)
}

// performanceScore rewards success rate and experience, and penalizes
// response times above five seconds.
func performanceScore(agent *types.Agent) float64 {
	score := agent.SuccessRate() * 70
	score += math.Min(20, float64(agent.TotalTasks())/10)

	avgMs := float64(agent.AvgResponseTime) / float64(time.Millisecond)
	if avgMs > 5000 {
		score -= math.Min(20, (avgMs-5000)/1000)
	}
	return math.Max(0, score)
}

func (m *CapabilityMatcher) relevanceScore(agent *types.Agent, req types.TaskRequirements) (float64, []string, []types.Specialization) {
	score := 0.0

	var matchedCaps []string
	for _, required := range req.RequiredCapabilities {
		if agent.HasCapability(required) {
			matchedCaps = append(matchedCaps, required)
			score += 15
		}
	}

	var matchedSpecs []types.Specialization
	best := 0.0
	for _, spec := range agent.Specializations {
		rel := spec.Relevance(req.Domain, req.Subdomain, req.Keywords)
		if rel <= 0 {
			continue
		}
		matchedSpecs = append(matchedSpecs, spec)
		if rel > best {
			best = rel
		}
	}
	score += 0.6 * best

	if m.typeRelevant(agent.Type, req) {
		score += 10
	}

	return math.Min(100, score), matchedCaps, matchedSpecs
}

// typeRelevant reports whether the agent type keywords occur in the task
// domain, or in the description when no domain is given.
func (m *CapabilityMatcher) typeRelevant(agentType types.AgentType, req types.TaskRequirements) bool {
	keywords, ok := m.config.TypeKeywords[agentType]
	if !ok {
		keywords = DefaultTypeKeywords[agentType]
	}
	if len(keywords) == 0 {
		return false
	}

	text := req.Domain
	if text == "" {
		text = req.Description
	}
	text = strings.ToLower(text)
	if text == "" {
		return false
	}

	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func primaryReason(match *AgentMatch) MatchReason {
	switch {
	case match.RelevanceScore > 80 && len(match.MatchedSpecializations) > 0:
		return MatchReasonPerfect
	case len(match.MatchedSpecializations) > 0:
		return MatchReasonSpecialization
	case len(match.MatchedCapabilities) > 0:
		return MatchReasonCapability
	case match.RelevanceScore > 50:
		return MatchReasonType
	case match.RelevanceScore > 0:
		return MatchReasonBestAvailable
	default:
		return MatchReasonFallback
	}
}

func concerns(agent *types.Agent, req types.TaskRequirements, match *AgentMatch) []string {
	var out []string
	if !agent.CanAcceptTask() {
		out = append(out, "agent is currently unavailable")
	}
	if match.PerformanceScore < 50 {
		out = append(out, "below-average performance history")
	}
	if match.RelevanceScore < 30 {
		out = append(out, "limited relevance to task requirements")
	}

	if req.MinSkillLevel > 0 || req.MinConfidence > 0 {
		bestSkill, bestConfidence := 0, 0.0
		for _, s := range match.MatchedSpecializations {
			if s.SkillLevel > bestSkill {
				bestSkill = s.SkillLevel
			}
			if s.Confidence > bestConfidence {
				bestConfidence = s.Confidence
			}
		}
		if req.MinSkillLevel > 0 && bestSkill < req.MinSkillLevel {
			out = append(out, fmt.Sprintf("skill level %d below required %d", bestSkill, req.MinSkillLevel))
		}
		if req.MinConfidence > 0 && bestConfidence < req.MinConfidence {
			out = append(out, fmt.Sprintf("confidence %.2f below required %.2f", bestConfidence, req.MinConfidence))
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
