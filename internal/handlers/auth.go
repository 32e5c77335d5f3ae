package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/jacoelt/backrecorder/internal/cloud"
)

// AuthHandler drives the cloud sign-in flow.
type AuthHandler struct {
	cloudManager *cloud.Manager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cloudManager *cloud.Manager) *AuthHandler {
	return &AuthHandler{
		cloudManager: cloudManager,
	}
}

// HandleSignIn returns the authorization URL the user must visit.
func (h *AuthHandler) HandleSignIn(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"auth_url": h.cloudManager.SignInURL(),
	})
}

// HandleCallback receives the OAuth redirect, exchanges the code and then
// provisions the Drive folders.
func (h *AuthHandler) HandleCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing authorization code",
			"code":  "ERR_NO_AUTH_CODE",
		})
	}

	if err := h.cloudManager.HandleAuthCode(c.Context(), code); err != nil {
		log.Printf("Auth code exchange failed: %v", err)
		return c.Status(502).JSON(fiber.Map{
			"error": "Sign-in failed",
			"code":  "ERR_AUTH_FAILED",
		})
	}

	if err := h.cloudManager.SetupDrive(c.Context()); err != nil {
		log.Printf("Drive setup after sign-in failed: %v", err)
		return c.Status(502).JSON(fiber.Map{
			"error": "Signed in, but Drive folder setup failed",
			"code":  "ERR_DRIVE_SETUP_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"status": "signed_in",
		"state":  h.cloudManager.State(),
	})
}

// HandleSetup re-runs folder provisioning; safe to call repeatedly.
func (h *AuthHandler) HandleSetup(c *fiber.Ctx) error {
	if err := h.cloudManager.SetupDrive(c.Context()); err != nil {
		return c.Status(502).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_DRIVE_SETUP_FAILED",
		})
	}
	return c.JSON(fiber.Map{
		"state": h.cloudManager.State(),
	})
}
