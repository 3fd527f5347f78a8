// Package args implements the Flexible Argument Parser (C3): an
// order-independent, alias-aware scan that converts a token vector into an
// ExecutionContext using the Config Graph's alias tables.
package args

import (
	"fmt"

	execctx "cph-engine/internal/context"
	"cph-engine/internal/config"
	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
)

// Parse converts tokens into an ExecutionContext, seeded from snapshot.
// Tokens may appear in any order; see the package doc and spec §4.3/§8 for
// the order-independence guarantee this implements.
func Parse(g *config.Graph, snapshot *execctx.Snapshot, tokens []string) (*execctx.ExecutionContext, error) {
	timer := logging.StartTimer(logging.CategoryArgs, "Parse")
	defer timer.Stop()

	ctx := execctx.NewExecutionContext()
	snapshot.ApplyTo(ctx)

	remaining := make([]string, len(tokens))
	copy(remaining, tokens)

	// Step 2: language, scanned against children of "languages".
	if key, idx, ok := scanFirstMatch(g, "languages", "", remaining); ok {
		ctx.Set(execctx.FieldLanguage, key, true)
		remaining = removeAt(remaining, idx)
		logging.ArgsDebug("matched language %q at token %d", key, idx)
	}

	// Step 3: env type, only if language resolved; per-language override
	// falls back to shared.env_types.
	if ctx.Language != "" {
		if key, idx, ok := scanFirstMatch(g, "shared.env_types", ctx.Language, remaining); ok {
			ctx.Set(execctx.FieldEnvType, key, true)
			remaining = removeAt(remaining, idx)
			logging.ArgsDebug("matched env_type %q at token %d", key, idx)
		}
	}

	// Step 4: command, same precedence as env type.
	if ctx.Language != "" {
		if key, idx, ok := scanFirstMatch(g, "shared.commands", ctx.Language, remaining); ok {
			ctx.Set(execctx.FieldCommandType, key, true)
			remaining = removeAt(remaining, idx)
			logging.ArgsDebug("matched command %q at token %d", key, idx)
		}
	}

	// Step 5: one or two remaining positional tokens. Last -> problem,
	// second-to-last -> contest.
	switch len(remaining) {
	case 0:
		// nothing positional supplied this invocation
	case 1:
		ctx.Set(execctx.FieldProblemName, remaining[0], true)
	case 2:
		ctx.Set(execctx.FieldContestName, remaining[0], true)
		ctx.Set(execctx.FieldProblemName, remaining[1], true)
	default:
		return nil, errs.New(errs.CodeArgTooMany, fmt.Sprintf("too many positional arguments: %v", remaining))
	}

	// Step 6: required-field check.
	for _, f := range execctx.AllFields {
		if ctx.Get(f) == "" {
			return nil, errs.New(errs.CodeArgMissingRequired, fmt.Sprintf("missing required field %q (not user-specified, no snapshot, no default)", f))
		}
	}

	logging.Args("parsed context: language=%s env=%s command=%s contest=%s problem=%s",
		ctx.Language, ctx.EnvType, ctx.CommandType, ctx.ContestName, ctx.ProblemName)
	return ctx, nil
}

// scanFirstMatch scans tokens left to right and returns the config key of
// the first one that matches a child (by key or alias) of configPath,
// preferring the per-language override when language is non-empty.
func scanFirstMatch(g *config.Graph, configPath, language string, tokens []string) (key string, idx int, ok bool) {
	for i, tok := range tokens {
		if matched, found := g.MatchToken(configPath, language, tok); found {
			return matched, i, true
		}
	}
	return "", -1, false
}

func removeAt(tokens []string, idx int) []string {
	out := make([]string, 0, len(tokens)-1)
	out = append(out, tokens[:idx]...)
	out = append(out, tokens[idx+1:]...)
	return out
}
