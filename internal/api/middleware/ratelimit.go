package middleware

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AbhinavJain2107/unihive/internal/auth"
	"github.com/AbhinavJain2107/unihive/internal/config"
	"github.com/AbhinavJain2107/unihive/internal/services"
)

// clientLimiter stores rate limiters for a specific client.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware applies per-client token buckets: a hard limit for
// everyone and a tighter soft limit that only unauthenticated clients hit.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config          // For defaults
	configService services.IConfigService // For runtime overrides
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware and starts the
// stale-entry cleanup goroutine.
func NewRateLimiterMiddleware(cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
	}
	go rm.cleanupClients()
	return rm
}

// getClientLimiter retrieves or creates the rate limiters for a client IP.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, softRate, softBurst, hardRate, hardBurst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[identifier]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(rate.Limit(softRate), softBurst),
			hardLimiter: rate.NewLimiter(rate.Limit(hardRate), hardBurst),
		}
		rm.clients[identifier] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically removes old client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", count)
		}
	}
}

// hasValidToken reports whether the request carries a parseable session
// token. Used only to decide which limit applies; the auth middleware does
// the authoritative check later.
func (rm *RateLimiterMiddleware) hasValidToken(c *gin.Context) bool {
	header := c.GetHeader("Authorization")
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return false
	}
	_, err := auth.ValidateJWT(parts[1], rm.cfg.JwtSecret)
	return err == nil
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.ClientIP()

		ctx := c.Request.Context()
		softRate := rm.configService.GetInt(ctx, "RATE_SOFT_RPS", rm.cfg.RateLimitSoftRefillRate)
		softBurst := rm.configService.GetInt(ctx, "RATE_SOFT_BURST", rm.cfg.RateLimitSoftBucketSize)
		hardRate := rm.configService.GetInt(ctx, "RATE_HARD_RPS", rm.cfg.RateLimitHardRefillRate)
		hardBurst := rm.configService.GetInt(ctx, "RATE_HARD_BURST", rm.cfg.RateLimitHardBucketSize)

		limiter := rm.getClientLimiter(clientKey, softRate, softBurst, hardRate, hardBurst)

		if !limiter.hardLimiter.Allow() {
			log.Printf("Hard rate limit exceeded for client %s on %s", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		if !rm.hasValidToken(c) && !limiter.softLimiter.Allow() {
			log.Printf("Soft rate limit exceeded for unauthenticated client %s on %s", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, sign in to continue"})
			return
		}

		c.Next()
	}
}
