package services

import (
	"context"
	"fmt"
	"sort"

	"cadence/models"
	"cadence/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Catalog is a cadence's steps in traversal order.
type Catalog struct {
	ordered []models.Step
	index   map[uint]int
}

// NewCatalog sorts steps by (DayOffset, OrderInDay, CreatedAt, ID). The
// result is a strict total order: no two steps compare equal.
func NewCatalog(steps []models.Step) *Catalog {
	ordered := make([]models.Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return stepLess(&ordered[i], &ordered[j])
	})

	index := make(map[uint]int, len(ordered))
	for i := range ordered {
		index[ordered[i].ID] = i
	}
	return &Catalog{ordered: ordered, index: index}
}

func stepLess(a, b *models.Step) bool {
	if a.DayOffset != b.DayOffset {
		return a.DayOffset < b.DayOffset
	}
	if a.OrderInDay != b.OrderInDay {
		return a.OrderInDay < b.OrderInDay
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (c *Catalog) Len() int { return len(c.ordered) }

// Ordered returns every step in global order.
func (c *Catalog) Ordered() []models.Step {
	out := make([]models.Step, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ByDay buckets steps by day offset; each bucket is in traversal order.
func (c *Catalog) ByDay() map[int][]models.Step {
	days := make(map[int][]models.Step)
	for _, step := range c.ordered {
		days[step.DayOffset] = append(days[step.DayOffset], step)
	}
	return days
}

// Days returns the distinct day offsets in ascending order.
func (c *Catalog) Days() []int {
	var days []int
	for i, step := range c.ordered {
		if i == 0 || c.ordered[i-1].DayOffset != step.DayOffset {
			days = append(days, step.DayOffset)
		}
	}
	return days
}

func (c *Catalog) First() *models.Step {
	if len(c.ordered) == 0 {
		return nil
	}
	step := c.ordered[0]
	return &step
}

func (c *Catalog) Get(stepID uint) (*models.Step, bool) {
	i, ok := c.index[stepID]
	if !ok {
		return nil, false
	}
	step := c.ordered[i]
	return &step, true
}

// Next returns the step after stepID, or nil when stepID is last or unknown.
func (c *Catalog) Next(stepID uint) *models.Step {
	i, ok := c.index[stepID]
	if !ok || i+1 >= len(c.ordered) {
		return nil
	}
	step := c.ordered[i+1]
	return &step
}

// dayNeighbor returns the adjacent step on the same day in direction dir.
func (c *Catalog) dayNeighbor(stepID uint, dir MoveDirection) *models.Step {
	i, ok := c.index[stepID]
	if !ok {
		return nil
	}
	j := i - 1
	if dir == MoveDown {
		j = i + 1
	}
	if j < 0 || j >= len(c.ordered) || c.ordered[j].DayOffset != c.ordered[i].DayOffset {
		return nil
	}
	step := c.ordered[j]
	return &step
}

// nextOrderInDay is one past the highest OrderInDay used on day.
func (c *Catalog) nextOrderInDay(day int) int {
	next := 0
	for _, step := range c.ordered {
		if step.DayOffset == day && step.OrderInDay >= next {
			next = step.OrderInDay + 1
		}
	}
	return next
}

type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

// StepService edits a cadence's step catalog.
type StepService struct {
	DB     *gorm.DB
	Logger logrus.FieldLogger
}

func NewStepService(db *gorm.DB, logger logrus.FieldLogger) *StepService {
	return &StepService{DB: db, Logger: logger}
}

type CreateStepInput struct {
	StepType  models.StepType   `json:"step_type" validate:"required"`
	Label     string            `json:"label" validate:"max=200"`
	DayOffset int               `json:"day_offset" validate:"min=0"`
	Config    models.StepConfig `json:"-"`
}

// Catalog loads the ordered steps of a cadence.
func (s *StepService) Catalog(ctx context.Context, tenantID, cadenceID uint) (*Catalog, error) {
	if _, err := findCadence(ctx, s.DB, tenantID, cadenceID); err != nil {
		return nil, err
	}
	return loadCatalog(ctx, s.DB, tenantID, cadenceID)
}

// CreateStep appends a step at the end of its day.
func (s *StepService) CreateStep(ctx context.Context, tenantID, cadenceID uint, input CreateStepInput) (*models.Step, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !input.StepType.Valid() {
		return nil, validationError("unknown step type %q", input.StepType)
	}

	var step models.Step
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCadence(ctx, tx, tenantID, cadenceID); err != nil {
			return err
		}
		catalog, err := loadCatalog(ctx, tx, tenantID, cadenceID)
		if err != nil {
			return err
		}

		step = models.Step{
			TenantID:   tenantID,
			CadenceID:  cadenceID,
			StepType:   input.StepType,
			Label:      input.Label,
			DayOffset:  input.DayOffset,
			OrderInDay: catalog.nextOrderInDay(input.DayOffset),
		}
		cfg := input.Config
		if cfg == nil {
			if cfg, err = models.NewStepConfig(input.StepType); err != nil {
				return err
			}
		}
		if err := step.SetSettings(cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return tx.Create(&step).Error
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"cadence_id": cadenceID,
		"step_id":    step.ID,
		"step_type":  step.StepType,
		"day":        step.DayOffset,
	}).Info("Step created")
	return &step, nil
}

// StepUpdate lists the editable fields of a step. RawConfig is decoded
// against the step's own type when Config is nil.
type StepUpdate struct {
	Label     *string
	Config    models.StepConfig
	RawConfig []byte
}

// UpdateStep changes the label and configuration of a step.
func (s *StepService) UpdateStep(ctx context.Context, tenantID, stepID uint, update StepUpdate) (*models.Step, error) {
	step, err := findStep(ctx, s.DB, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	cfg := update.Config
	if cfg == nil && len(update.RawConfig) > 0 {
		if cfg, err = models.DecodeStepConfig(step.StepType, update.RawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	updates := map[string]interface{}{}
	if update.Label != nil {
		step.Label = *update.Label
		updates["label"] = *update.Label
	}
	if cfg != nil {
		if err := step.SetSettings(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		updates["config"] = step.Config
	}
	if len(updates) == 0 {
		return step, nil
	}
	if err := s.DB.WithContext(ctx).Model(step).Updates(updates).Error; err != nil {
		return nil, err
	}
	return step, nil
}

// MoveWithinDay swaps a step's OrderInDay with its neighbor on the same day.
// Both writes are conditional on the values read; if either misses, the
// whole swap rolls back with ErrStaleState.
func (s *StepService) MoveWithinDay(ctx context.Context, tenantID, stepID uint, dir MoveDirection) (*Catalog, error) {
	if dir != MoveUp && dir != MoveDown {
		return nil, validationError("direction must be %q or %q", MoveUp, MoveDown)
	}

	var result *Catalog
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, err := findStep(ctx, tx, tenantID, stepID)
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(ctx, tx, tenantID, step.CadenceID)
		if err != nil {
			return err
		}
		neighbor := catalog.dayNeighbor(step.ID, dir)
		if neighbor == nil {
			return validationError("step %d cannot move %s within day %d", step.ID, dir, step.DayOffset)
		}

		if step.OrderInDay != neighbor.OrderInDay {
			if err := setOrderInDay(tx, step, neighbor.OrderInDay); err != nil {
				return err
			}
			if err := setOrderInDay(tx, neighbor, step.OrderInDay); err != nil {
				return err
			}
		} else if err := renumberDay(tx, catalog, step, neighbor); err != nil {
			return err
		}

		result, err = loadCatalog(ctx, tx, tenantID, step.CadenceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// renumberDay rewrites a day's OrderInDay as 0..n-1 with a and b exchanged.
// Used when the two steps share an OrderInDay and a plain swap is a no-op.
func renumberDay(tx *gorm.DB, catalog *Catalog, a, b *models.Step) error {
	day := catalog.ByDay()[a.DayOffset]
	for i := range day {
		switch day[i].ID {
		case a.ID:
			day[i] = *b
		case b.ID:
			day[i] = *a
		}
	}
	for i := range day {
		if day[i].OrderInDay == i {
			continue
		}
		if err := setOrderInDay(tx, &day[i], i); err != nil {
			return err
		}
	}
	return nil
}

func setOrderInDay(tx *gorm.DB, step *models.Step, order int) error {
	res := tx.Model(&models.Step{}).
		Where("id = ? AND day_offset = ? AND order_in_day = ?", step.ID, step.DayOffset, step.OrderInDay).
		Update("order_in_day", order)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("step %d: %w", step.ID, ErrStaleState)
	}
	return nil
}

// MoveToDay moves a step to another day and appends it to that day's order.
func (s *StepService) MoveToDay(ctx context.Context, tenantID, stepID uint, day int) (*models.Step, error) {
	if day < 0 {
		return nil, validationError("day offset must be non-negative")
	}

	var moved *models.Step
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, err := findStep(ctx, tx, tenantID, stepID)
		if err != nil {
			return err
		}
		if step.DayOffset == day {
			moved = step
			return nil
		}
		catalog, err := loadCatalog(ctx, tx, tenantID, step.CadenceID)
		if err != nil {
			return err
		}
		order := catalog.nextOrderInDay(day)
		res := tx.Model(&models.Step{}).
			Where("id = ? AND day_offset = ? AND order_in_day = ?", step.ID, step.DayOffset, step.OrderInDay).
			Updates(map[string]interface{}{"day_offset": day, "order_in_day": order})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("step %d: %w", step.ID, ErrStaleState)
		}
		step.DayOffset = day
		step.OrderInDay = order
		moved = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// DeleteStep removes a step without renumbering its siblings. It is refused
// while scheduled rows reference the step. Enrollments positioned on the
// step move to the following step, or complete when it was the last one.
func (s *StepService) DeleteStep(ctx context.Context, tenantID, stepID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		step, err := findStep(ctx, tx, tenantID, stepID)
		if err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&models.Schedule{}).
			Where("step_id = ? AND status = ?", step.ID, models.ScheduleScheduled).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("step %d has %d pending schedules: %w", step.ID, pending, ErrStepInUse)
		}

		catalog, err := loadCatalog(ctx, tx, tenantID, step.CadenceID)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{"current_step_id": nil}
		if next := catalog.Next(step.ID); next != nil {
			updates["current_step_id"] = next.ID
		} else {
			updates["status"] = models.EnrollmentCompleted
			updates["completed_at"] = tx.NowFunc()
		}
		if err := tx.Model(&models.CadenceLead{}).
			Where("cadence_id = ? AND current_step_id = ?", step.CadenceID, step.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Delete(step).Error; err != nil {
			return err
		}
		s.Logger.WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"cadence_id": step.CadenceID,
			"step_id":    step.ID,
		}).Info("Step deleted")
		return nil
	})
}
