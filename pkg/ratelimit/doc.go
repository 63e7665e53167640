// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit throttles chat API usage ahead of the Agent Loop
// Runner's per-turn call: before the runner calls model.Client, the
// usage already recorded for the agent kind is checked against the
// configured windows, and once the call completes its token and
// request cost is recorded.
//
// Features:
//   - Multi-layer time windows (minute, hour, day, week, month)
//   - Dual tracking (token count AND request count)
//   - Scopes: per-agent-kind or one shared global budget
//   - Multiple storage backends (in-memory and SQL)
//   - Atomic check-and-record operations
//   - Detailed usage statistics
//
// # Basic Usage
//
//	// Create store (memory or SQL)
//	memStore := ratelimit.NewMemoryStore()
//
//	// Create limiter with config
//	limiter, err := ratelimit.NewRateLimiter(cfg, memStore)
//
//	// Check and record usage
//	result, err := limiter.CheckAndRecord(ctx, ratelimit.ScopeAgentKind, string(store.StoryDeveloper), 1000, 1)
//	if !result.Allowed {
//	    // Handle rate limit exceeded
//	}
//
// # Configuration
//
// The limiter is configured in Go: config.Config has no rate-limiting
// section, and Config has no scope or backend field. The scope is
// passed on every call and the backing store to NewRateLimiter.
//
//	cfg := &ratelimit.Config{
//	    Enabled: true,
//	    Limits: []ratelimit.LimitRule{
//	        {Type: ratelimit.LimitTypeToken, Window: ratelimit.WindowDay, Limit: 100000},
//	        {Type: ratelimit.LimitTypeCount, Window: ratelimit.WindowMinute, Limit: 60},
//	    },
//	}
//
// # Time Windows
//
//   - minute: 60 seconds (burst protection)
//   - hour: 60 minutes (short-term limits)
//   - day: 24 hours (daily quotas, mirroring store.DailyTokenUsage)
//   - week: 7 days (weekly budgets)
//   - month: 30 days (monthly billing)
//
// # Limit Types
//
//   - token: Track token usage (chat API tokens, cost control)
//   - count: Track request count (rate throttling)
//
// # Scopes
//
//   - agent_kind: each store.AgentKind has independent quotas
//   - global: every agent kind shares one quota
package ratelimit
