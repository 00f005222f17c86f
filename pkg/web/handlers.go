package web

import (
	"github.com/gofiber/fiber/v2"
)

// handleParameters returns the camera intrinsics
func (s *Server) handleParameters(c *fiber.Ctx) error {
	return c.JSON(s.params)
}

// handleStatus returns the camera and capture status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleColorFrame(c *fiber.Ctx) error {
	s.mu.RLock()
	data := s.colorJPEG
	s.mu.RUnlock()
	return sendJPEG(c, data)
}

func (s *Server) handleDepthFrame(c *fiber.Ctx) error {
	s.mu.RLock()
	data := s.depthJPEG
	s.mu.RUnlock()
	return sendJPEG(c, data)
}

func sendJPEG(c *fiber.Ctx, data []byte) error {
	if data == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no frame captured yet",
		})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}
