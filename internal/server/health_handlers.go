package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const checkTimeout = 2 * time.Second

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck runs every registered check. A failing required check answers
// 503; a failing optional one only marks the service degraded.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	results := fiber.Map{}
	status := fiber.StatusOK
	overall := "healthy"

	for _, hc := range s.checks {
		ctx, cancel := context.WithTimeout(c.UserContext(), checkTimeout)
		err := hc.Check(ctx)
		cancel()

		if err == nil {
			results[hc.Name] = "healthy"
			continue
		}
		results[hc.Name] = "unhealthy"
		if hc.Optional {
			if overall == "healthy" {
				overall = "degraded"
			}
			continue
		}
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": results,
		"time":   time.Now(),
	})
}

// SiteInfo handles GET /api/site
func (s *Server) SiteInfo(c *fiber.Ctx) error {
	return c.JSON(s.site())
}
