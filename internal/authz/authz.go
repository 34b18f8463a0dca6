// Package authz decides whether a caller may apply admin mutations.
package authz

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Load the built-in policy from admin.rego in this directory.
//
//go:embed admin.rego
var defaultPolicy string

const adminQuery = "data.streamstats.admin.allow"

// Request is the policy input.
type Request struct {
	Community   string   `json:"community"`
	Member      string   `json:"member,omitempty"`
	Action      string   `json:"action"`
	Permissions []string `json:"permissions"`
}

// Authorizer evaluates the admin policy.
type Authorizer struct {
	query  rego.PreparedEvalQuery
	logger zerolog.Logger
}

// New prepares the admin policy. An empty policyDir selects the built-in
// policy; otherwise every .rego file in policyDir is loaded instead.
func New(policyDir string, logger zerolog.Logger) (*Authorizer, error) {
	a := &Authorizer{
		logger: logger.With().Str("component", "authz").Logger(),
	}

	modules, err := a.loadPolicies(policyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(adminQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	a.query, err = rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare admin query: %w", err)
	}

	a.logger.Info().Str("policy_dir", policyDir).Int("modules", len(modules)).Msg("Admin policy initialized")
	return a, nil
}

// loadPolicies returns policy sources keyed by file name
func (a *Authorizer) loadPolicies(policyDir string) (map[string]string, error) {
	if policyDir == "" {
		return map[string]string{"admin.rego": defaultPolicy}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", policyDir)
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		modules[file] = string(content)
		a.logger.Debug().Str("file", file).Msg("Loaded policy module")
	}
	return modules, nil
}

// Allow reports whether req is permitted.
func (a *Authorizer) Allow(ctx context.Context, req Request) (bool, error) {
	if req.Permissions == nil {
		req.Permissions = []string{}
	}

	input := map[string]interface{}{
		"community":   req.Community,
		"member":      req.Member,
		"action":      req.Action,
		"permissions": req.Permissions,
	}

	results, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("admin policy evaluation failed: %w", err)
	}

	allowed := results.Allowed()
	a.logger.Debug().
		Str("community", req.Community).
		Str("action", req.Action).
		Bool("allowed", allowed).
		Msg("Admin policy evaluated")
	return allowed, nil
}

// ParsePermissions splits a comma-separated permission header.
func ParsePermissions(header string) []string {
	perms := make([]string, 0)
	for _, p := range strings.Split(header, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}
