package routes

import (
	controller "cadence/controllers"
	"cadence/middleware"
	"cadence/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Cadences   *services.CadenceService
	Steps      *services.StepService
	Tracker    *services.EnrollmentTracker
	Dispatcher *services.Dispatcher
	Queue      *services.ScheduleQueue
	Leads      *services.LeadService
	Promotion  *services.PromotionService
}

// SetupRoutes mounts the API under /api/v1. limiterStorage may be nil, in
// which case the execution limiter keeps its counters in memory.
func SetupRoutes(app *fiber.App, svc Services, limiterStorage fiber.Storage, log logrus.FieldLogger) {
	cadenceController := controller.NewCadenceController(svc.Cadences, log.WithField("controller", "cadence"))
	stepController := controller.NewStepController(svc.Steps, log.WithField("controller", "step"))
	enrollmentController := controller.NewEnrollmentController(svc.Tracker, log.WithField("controller", "enrollment"))
	executionController := controller.NewExecutionController(svc.Dispatcher, log.WithField("controller", "execution"))
	scheduleController := controller.NewScheduleController(svc.Queue, log.WithField("controller", "schedule"))
	leadController := controller.NewLeadController(svc.Leads, svc.Promotion, log.WithField("controller", "lead"))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Cadence routes
	cadence := api.Group("/cadences")
	cadence.Post("/", cadenceController.CreateCadence)
	cadence.Get("/", cadenceController.GetCadences)
	cadence.Get("/:id", cadenceController.GetCadence)
	cadence.Put("/:id", cadenceController.UpdateCadence)
	cadence.Delete("/:id", cadenceController.DeleteCadence)
	cadence.Post("/:id/activate", cadenceController.ActivateCadence)
	cadence.Post("/:id/deactivate", cadenceController.DeactivateCadence)
	cadence.Get("/:id/current-day", cadenceController.GetCurrentDay)

	// Step catalog
	cadence.Post("/:id/steps", stepController.CreateStep)
	cadence.Get("/:id/steps/by-day", stepController.GetStepsByDay)
	cadence.Get("/:id/steps/order", stepController.GetStepOrder)
	step := api.Group("/steps")
	step.Put("/:stepId", stepController.UpdateStep)
	step.Delete("/:stepId", stepController.DeleteStep)
	step.Post("/:stepId/move", stepController.MoveStep)
	step.Post("/:stepId/day", stepController.MoveStepToDay)

	// Enrollment
	cadence.Post("/:id/leads", enrollmentController.EnrollLeads)
	cadence.Get("/:id/leads", enrollmentController.GetCadenceLeads)
	cadence.Delete("/:id/leads/:leadId", enrollmentController.RemoveLead)

	// Execution
	execLimiter := middleware.ExecutionRateLimiter(limiterStorage)
	cadence.Post("/:id/steps/:stepId/execute", execLimiter, executionController.ExecuteStep)
	cadence.Post("/:id/steps/:stepId/execute-all", execLimiter, executionController.ExecuteStepForAll)
	cadence.Get("/:id/steps/:stepId/execute-all/ws", execLimiter, controller.UpgradeWS, websocket.New(executionController.HandleExecuteAllWS))

	// Schedules
	cadence.Post("/:id/schedules/first-step", scheduleController.ScheduleFirstStep)
	cadence.Post("/:id/schedules/cancel", scheduleController.CancelAllSchedules)
	cadence.Get("/:id/schedules", scheduleController.GetCadenceSchedules)
	schedule := api.Group("/schedules")
	schedule.Post("/", scheduleController.CreateSchedules)
	schedule.Post("/:id/cancel", scheduleController.CancelSchedule)

	// Leads and prospects
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Get("/:id/enrollments", enrollmentController.GetLeadEnrollments)

	prospect := api.Group("/prospects")
	prospect.Post("/", leadController.CreateProspect)
	prospect.Get("/", leadController.GetProspects)
	prospect.Post("/promote", leadController.BulkPromoteProspects)
	prospect.Post("/:id/promote", leadController.PromoteProspect)
}
