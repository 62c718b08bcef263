// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-caller token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or negative disables
	// limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size. Defaults to twice the rate, at least 1.
	Burst int `yaml:"burst"`

	// IdleTTL is how long an unused bucket is kept. Default: 10m.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// RateLimiter keeps one token bucket per caller.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	idleTTL time.Duration
	now     func() time.Time

	// onLimited is called for every rejected request.
	onLimited func()

	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. onLimited may be nil.
func NewRateLimiter(cfg RateLimitConfig, onLimited func()) *RateLimiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     burstFor(cfg),
		idleTTL:   ttl,
		now:       time.Now,
		onLimited: onLimited,
		buckets:   make(map[string]*bucket),
	}
}

func burstFor(cfg RateLimitConfig) int {
	if cfg.Burst > 0 {
		return cfg.Burst
	}
	return max(1, int(math.Ceil(cfg.RequestsPerSecond*2)))
}

// SetLimits replaces the rate and burst. Existing buckets are dropped so
// every caller starts full under the new limits.
func (rl *RateLimiter) SetLimits(cfg RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = rate.Limit(cfg.RequestsPerSecond)
	rl.burst = burstFor(cfg)
	clear(rl.buckets)
}

func (rl *RateLimiter) currentLimit() rate.Limit {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limit
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	if rl.limit <= 0 {
		rl.mu.Unlock()
		return true
	}
	if now.Sub(rl.lastSweep) > rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) > rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Middleware limits each principal, or each client IP before
// authentication, and answers 429 RATE_LIMITED when the bucket is empty.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if p, ok := GetPrincipal(c); ok {
			key = "user:" + p.UserID
		}
		if rl.Allow(key) {
			c.Next()
			return
		}

		if rl.onLimited != nil {
			rl.onLimited()
		}
		retry := 1
		if limit := rl.currentLimit(); limit > 0 {
			retry = max(1, int(math.Ceil(1/float64(limit))))
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
			"code":  "RATE_LIMITED",
		})
	}
}

// size returns the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
