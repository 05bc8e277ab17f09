package controller

import (
	"context"
	"time"

	"cadence/config"
	"cadence/middleware"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type ExecutionController struct {
	Dispatcher *services.Dispatcher
	Logger     logrus.FieldLogger
	// BulkTimeout caps ExecuteStepForAll. Zero leaves it unbounded.
	BulkTimeout time.Duration
}

func NewExecutionController(dispatcher *services.Dispatcher, logger logrus.FieldLogger) *ExecutionController {
	return &ExecutionController{
		Dispatcher:  dispatcher,
		Logger:      logger,
		BulkTimeout: config.AppConfig.BulkRequestTimeout,
	}
}

type executeInput struct {
	LeadID    uint               `json:"lead_id"`
	EditMode  bool               `json:"edit_mode"`
	Overrides services.Overrides `json:"overrides"`
}

// ExecuteStep sends a step to one lead after checking the day gate.
func (ec *ExecutionController) ExecuteStep(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	var input executeInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if input.LeadID == 0 {
		return badRequest(c, "lead_id is required", nil)
	}

	tenantID := middleware.TenantID(c)
	ctx := c.UserContext()
	if err := ec.Dispatcher.CheckGate(ctx, tenantID, cadenceID, stepID, input.EditMode); err != nil {
		return respondError(c, err, "Failed to execute step")
	}

	result, err := ec.Dispatcher.Execute(ctx, services.ExecuteRequest{
		TenantID:  tenantID,
		CadenceID: cadenceID,
		StepID:    stepID,
		LeadID:    input.LeadID,
		Overrides: input.Overrides,
		EditMode:  input.EditMode,
	})
	if err != nil {
		return respondError(c, err, "Failed to execute step")
	}
	return c.JSON(utils.SuccessResponse(result))
}

// ExecuteStepForAll sends a step to every lead positioned on it and returns
// the accumulated per-lead outcomes. fasthttp does not report a client that
// hangs up, so the run is bounded by BulkTimeout instead; when the bound is
// hit the leads handled so far come back with 408. Clients that need to stop
// a long run should use the websocket endpoint.
func (ec *ExecutionController) ExecuteStepForAll(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	var input executeInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}

	ctx := c.UserContext()
	if ec.BulkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ec.BulkTimeout)
		defer cancel()
	}

	bulk, err := ec.Dispatcher.ExecuteForStep(ctx, middleware.TenantID(c), cadenceID, stepID, input.Overrides, input.EditMode, nil)
	if err != nil && bulk != nil {
		ec.Logger.WithError(err).WithFields(logrus.Fields{
			"cadence_id": cadenceID,
			"step_id":    stepID,
			"done":       len(bulk.Results),
			"total":      bulk.Total,
		}).Warn("Bulk execution stopped before finishing")
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{
			"success": false,
			"error":   "Bulk execution stopped before finishing; use the websocket endpoint for long runs",
			"details": err.Error(),
			"data":    bulk,
		})
	}
	if err != nil {
		return respondError(c, err, "Failed to execute step")
	}
	return c.JSON(utils.SuccessResponse(bulk))
}

type progressMessage struct {
	Status  string               `json:"status"`
	Done    int                  `json:"done"`
	Total   int                  `json:"total"`
	Percent int                  `json:"percent"`
	Result  *services.Result     `json:"result,omitempty"`
	Summary *services.BulkResult `json:"summary,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// HandleExecuteAllWS runs a bulk send and streams each lead's outcome. The
// client sends one JSON message with edit_mode and overrides to start; closing
// the socket cancels the remaining sends.
func (ec *ExecutionController) HandleExecuteAllWS(conn *websocket.Conn) {
	defer conn.Close()

	tenantID, _ := conn.Locals("tenantID").(uint)
	cadenceID := utils.ParseUint(conn.Params("id"))
	stepID := utils.ParseUint(conn.Params("stepId"))
	logger := ec.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"cadence_id": cadenceID,
		"step_id":    stepID,
	})

	var input executeInput
	if err := conn.ReadJSON(&input); err != nil {
		logger.WithError(err).Warn("Error reading websocket start message")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// Any read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	progress := func(done, total int, result services.Result) {
		msg := progressMessage{Status: "running", Done: done, Total: total, Result: &result}
		if total > 0 {
			msg.Percent = done * 100 / total
		}
		if err := conn.WriteJSON(msg); err != nil {
			logger.WithError(err).Warn("Error writing websocket progress")
			cancel()
		}
	}

	bulk, err := ec.Dispatcher.ExecuteForStep(ctx, tenantID, cadenceID, stepID, input.Overrides, input.EditMode, progress)
	final := progressMessage{Status: "completed", Summary: bulk, Percent: 100}
	if bulk != nil {
		final.Done = len(bulk.Results)
		final.Total = bulk.Total
	}
	if err != nil {
		final.Status = "failed"
		final.Error = err.Error()
	}
	if err := conn.WriteJSON(final); err != nil {
		logger.WithError(err).Debug("Client left before the final message")
	}
}

// UpgradeWS rejects plain HTTP requests on websocket routes.
func UpgradeWS(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
