package requirement

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/target"
)

const DirectWriteToPMem = "direct_write_to_pmem"

// A Rule reports whether the platform satisfies one requirement property.
type Rule func(ctx context.Context, t target.Target, cfg *config.Config, value any) (bool, error)

type ruleSet map[string]Rule

var generations = map[string]ruleSet{
	"cascade_lake": {DirectWriteToPMem: cascadeLakeDirectWrite},
	"ice_lake":     {DirectWriteToPMem: iceLakeDirectWrite},
}

func rulesFor(generation string) (ruleSet, error) {
	rules, ok := generations[generation]
	if !ok {
		known := slices.Sorted(maps.Keys(generations))
		return nil, fmt.Errorf("%w: unknown PLATFORM_GENERATION %q (must be one of: %s)", config.ErrConfig, generation, strings.Join(known, ", "))
	}
	return rules, nil
}

func (rs ruleSet) lookup(name string) (Rule, error) {
	rule, ok := rs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown requirement %q", series.ErrSpecification, name)
	}
	return rule, nil
}

func wantBool(name string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: requirement %s must be a boolean, got %v", series.ErrSpecification, name, value)
	}
	return b, nil
}

// ddioCmd builds the command toggling DDIO on the root port of the RNIC. Direct write to PMem requires DDIO off.
func ddioCmd(cfg *config.Config, directWrite bool) string {
	state := "enable"
	if directWrite {
		state = "disable"
	}
	return fmt.Sprintf("sudo %s -d %s -s %s", cfg.RemoteDDIOCmd, cfg.RemoteRNICPCIeRootPort, state)
}

func cascadeLakeDirectWrite(ctx context.Context, t target.Target, cfg *config.Config, value any) (bool, error) {
	want, err := wantBool(DirectWriteToPMem, value)
	if err != nil {
		return false, err
	}
	if !cfg.RemoteSudoNoPasswd {
		return compareDirectWrite(cfg, want, fmt.Sprintf("run %q on the server", ddioCmd(cfg, want)))
	}

	if cfg.RemoteRNICPCIeRootPort == "" {
		return false, fmt.Errorf("%w: REMOTE_RNIC_PCIE_ROOT_PORT is required to toggle DDIO", config.ErrConfig)
	}
	_, err = t.RunSync(ctx, ddioCmd(cfg, want), nil, true)
	if err != nil {
		return false, fmt.Errorf("toggling DDIO failed: %w", err)
	}
	slog.Info("configured direct write to PMem on the server", slog.Bool("enabled", want))
	cfg.DirectWriteToPMem = &want
	return true, nil
}

func iceLakeDirectWrite(ctx context.Context, t target.Target, cfg *config.Config, value any) (bool, error) {
	want, err := wantBool(DirectWriteToPMem, value)
	if err != nil {
		return false, err
	}
	return compareDirectWrite(cfg, want, "change the DDIO setting in the server's BIOS")
}

// compareDirectWrite checks the declared server state. advice tells the user how to fix a mismatch.
func compareDirectWrite(cfg *config.Config, want bool, advice string) (bool, error) {
	if cfg.RemoteDirectWriteToPMem == nil {
		slog.Warn("REMOTE_DIRECT_WRITE_TO_PMEM is not set, can't tell whether the server writes directly to PMem",
			slog.Bool("required", want), slog.String("fix", fmt.Sprintf("%s and set REMOTE_DIRECT_WRITE_TO_PMEM=%t", advice, want)))
		return false, nil
	}
	if *cfg.RemoteDirectWriteToPMem != want {
		slog.Warn("the server's direct write to PMem setting does not match the requirement",
			slog.Bool("required", want), slog.Bool("configured", *cfg.RemoteDirectWriteToPMem),
			slog.String("fix", fmt.Sprintf("%s and set REMOTE_DIRECT_WRITE_TO_PMEM=%t", advice, want)))
		return false, nil
	}
	cfg.DirectWriteToPMem = &want
	return true, nil
}
