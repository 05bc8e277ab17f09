package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/config"
	"cadence/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LinkedInClient drives the LinkedIn automation service over HTTP.
type LinkedInClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  logrus.FieldLogger
}

func NewLinkedInClient(cfg config.LinkedInConfig, logger logrus.FieldLogger) *LinkedInClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LinkedInClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		logger:  logger,
	}
}

type linkedInPayload struct {
	TenantID    uint   `json:"tenant_id"`
	LeadID      uint   `json:"lead_id"`
	LinkedInURL string `json:"linkedin_url"`
	FirstName   string `json:"first_name,omitempty"`
	Message     string `json:"message,omitempty"`
	PostURL     string `json:"post_url,omitempty"`
	Reaction    string `json:"reaction,omitempty"`
}

func linkedInAction(t models.StepType) (string, error) {
	switch t {
	case models.StepTypeLinkedInMessage:
		return "message", nil
	case models.StepTypeLinkedInConnect:
		return "connect", nil
	case models.StepTypeLinkedInReaction:
		return "react", nil
	case models.StepTypeLinkedInComment:
		return "comment", nil
	}
	return "", fmt.Errorf("step type %s is not a LinkedIn action", t)
}

func (c *LinkedInClient) Send(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.baseURL == "" {
		return nil, errors.New("linkedin automation API is not configured")
	}
	action, err := linkedInAction(req.StepType)
	if err != nil {
		return nil, err
	}
	if req.Lead == nil || strings.TrimSpace(req.Lead.LinkedInURL) == "" {
		if req.StepType != models.StepTypeLinkedInReaction && req.StepType != models.StepTypeLinkedInComment {
			return &Response{Success: false, Error: ErrNoRecipient.Error()}, nil
		}
	}

	payload := linkedInPayload{
		TenantID: req.TenantID,
		Message:  req.Message,
		PostURL:  req.PostURL,
		Reaction: req.Reaction,
	}
	if req.Lead != nil {
		payload.LeadID = req.Lead.ID
		payload.LinkedInURL = req.Lead.LinkedInURL
		payload.FirstName = req.Lead.FirstName
	}

	agent := fiber.Post(c.baseURL + "/linkedin/" + action)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.apiKey)
	agent.Timeout(c.timeout)
	agent.JSON(payload)
	if err := agent.Parse(); err != nil {
		return nil, fmt.Errorf("linkedin %s request: %w", action, err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("linkedin %s request failed: %w", action, errors.Join(errs...))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		if code >= fiber.StatusBadRequest {
			return nil, fmt.Errorf("linkedin %s returned status %d", action, code)
		}
		return nil, fmt.Errorf("invalid linkedin %s response: %w", action, err)
	}
	if code >= fiber.StatusInternalServerError {
		return nil, fmt.Errorf("linkedin %s returned status %d: %s", action, code, resp.Error)
	}
	if code >= fiber.StatusBadRequest {
		resp.Success = false
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("status %d", code)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"action":            action,
		"lead_id":           payload.LeadID,
		"success":           resp.Success,
		"already_connected": resp.AlreadyConnected,
	}).Info("LinkedIn action sent")
	return &resp, nil
}
