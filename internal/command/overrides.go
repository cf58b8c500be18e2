// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// registryMu guards tier mutations from the overrides hot-reload path
// against concurrent Lookup calls.
var registryMu sync.RWMutex

// LoadTierOverrides reads a JSON file mapping command id to risk tier,
// the operational knob for promoting a command's tier without a
// redeploy (demotions are ignored for high-tier commands).
func LoadTierOverrides(path string) (map[string]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("command: read overrides %s: %w", path, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("command: parse overrides %s: %w", path, err)
	}
	out := make(map[string]Tier, len(raw))
	for id, tier := range raw {
		switch Tier(tier) {
		case TierLow, TierMedium, TierHigh:
			out[id] = Tier(tier)
		default:
			return nil, fmt.Errorf("command: overrides %s: unknown tier %q for %s", path, tier, id)
		}
	}
	return out, nil
}

// ApplyTierOverrides updates registered commands' tiers and returns
// how many applied. Unknown ids are skipped; high-tier commands never
// demote below high.
func ApplyTierOverrides(overrides map[string]Tier) int {
	registryMu.Lock()
	defer registryMu.Unlock()

	applied := 0
	for i := range Registry {
		tier, ok := overrides[Registry[i].ID]
		if !ok {
			continue
		}
		if Registry[i].Tier == TierHigh && tier != TierHigh {
			continue
		}
		if Registry[i].Tier != tier {
			Registry[i].Tier = tier
			applied++
		}
	}
	return applied
}
