package service

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/relayguard/relayguard/internal/adapter/outbound/cel"
	"github.com/relayguard/relayguard/internal/domain/policy"
	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/domain/request"
)

// defaultResultCacheSize bounds the policy-resolution LRU.
const defaultResultCacheSize = 1024

// Rule is an operator-defined rate-limit rule: a CEL condition over the
// request descriptor selecting a dedicated policy. Rules are consulted
// before the static path/role tables.
type Rule struct {
	// Name is a human-readable identifier for this rule.
	Name string
	// Condition is a CEL expression over the request variables.
	Condition string
	// Policy applies when the condition matches.
	Policy ratelimit.Policy
}

// compiledRule is a rule with its condition compiled at load time.
type compiledRule struct {
	name    string
	program cel.Program
	policy  ratelimit.Policy
}

// PolicyResolver maps a request descriptor to its rate-limit policy.
// Resolution order: rules in declaration order, then the dispatch tables
// (path override, role escalation, conservative default). Results are
// cached in a bounded LRU keyed by the descriptor fields rules can observe.
type PolicyResolver struct {
	tables    policy.Tables
	rules     []compiledRule
	evaluator *celeval.Evaluator
	cache     *resultCache
	logger    *slog.Logger
}

// NewPolicyResolver compiles the given rules and builds a resolver.
// A rule that fails to compile is a configuration error and aborts startup.
func NewPolicyResolver(tables policy.Tables, rules []Rule, logger *slog.Logger) (*PolicyResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		compiled  []compiledRule
		evaluator *celeval.Evaluator
	)
	if len(rules) > 0 {
		var err error
		evaluator, err = celeval.NewEvaluator()
		if err != nil {
			return nil, err
		}
		compiled = make([]compiledRule, 0, len(rules))
		for _, r := range rules {
			prg, err := evaluator.Compile(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			compiled = append(compiled, compiledRule{name: r.Name, program: prg, policy: r.Policy})
		}
	}

	return &PolicyResolver{
		tables:    tables,
		rules:     compiled,
		evaluator: evaluator,
		cache:     newResultCache(defaultResultCacheSize),
		logger:    logger,
	}, nil
}

// Tables exposes the dispatch tables for the cache side of the pipeline.
func (r *PolicyResolver) Tables() policy.Tables {
	return r.tables
}

// Resolve returns the rate-limit policy for a descriptor.
// A rule whose evaluation errors is skipped; the request never fails on a
// malfunctioning condition, it falls through to the tables.
func (r *PolicyResolver) Resolve(d request.Descriptor) ratelimit.Policy {
	key := resolutionKey(d)
	if p, ok := r.cache.Get(key); ok {
		return p
	}

	p, matched := r.matchRule(d)
	if !matched {
		p = r.tables.ResolveLimit(d)
	}

	r.cache.Put(key, p)
	return p
}

// matchRule evaluates rules in declaration order; first match wins.
func (r *PolicyResolver) matchRule(d request.Descriptor) (ratelimit.Policy, bool) {
	for _, rule := range r.rules {
		ok, err := r.evaluator.Evaluate(rule.program, d)
		if err != nil {
			r.logger.Warn("rule evaluation failed, skipping",
				"rule", rule.name,
				"error", err)
			continue
		}
		if ok {
			return rule.policy, true
		}
	}
	return ratelimit.Policy{}, false
}

// resolutionKey hashes the descriptor fields that can influence resolution.
// Roles are sorted for determinism.
func resolutionKey(d request.Descriptor) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(d.Method)
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(d.Path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(d.PrincipalID)
	_, _ = h.Write([]byte{0})

	sortedRoles := make([]string, len(d.Roles))
	copy(sortedRoles, d.Roles)
	sort.Strings(sortedRoles)
	_, _ = h.WriteString(strings.Join(sortedRoles, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(d.ClientAddr)

	return h.Sum64()
}
