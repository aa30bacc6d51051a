package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/domain"
	"compengine/internal/modules/binary"
	"compengine/internal/plan"
)

// SessionJob fires every minute, resolves the current session window in the
// configured timezone and runs the binary engine for it. The run-row unique
// key makes the trigger at-most-once; minutes outside any window (00:00 to
// 06:00) do nothing.
type SessionJob struct {
	engine *binary.Engine
	loc    *time.Location
	log    zerolog.Logger
}

// NewSessionJob creates the session trigger job
func NewSessionJob(engine *binary.Engine, loc *time.Location, log zerolog.Logger) *SessionJob {
	return &SessionJob{
		engine: engine,
		loc:    loc,
		log:    log.With().Str("job", "session_trigger").Logger(),
	}
}

// Name returns the job name
func (j *SessionJob) Name() string {
	return "session_trigger"
}

// Run resolves and triggers the current session.
func (j *SessionJob) Run() error {
	now := time.Now().In(j.loc)
	index := plan.CurrentSession(now)
	if index == 0 {
		return nil
	}

	result, err := j.engine.RunSession(plan.DateKey(now), index)
	if err != nil {
		return fmt.Errorf("session %d trigger failed: %w", index, err)
	}

	if !result.AlreadyRan {
		j.log.Info().
			Int("session", index).
			Int("pairs_paid", result.PairsPaid).
			Msg("Session triggered")
	}

	return nil
}

// TriggerSessionNow is the admin path: run one session index for today
// immediately. A session that already ran comes back as a no-op result.
func (j *SessionJob) TriggerSessionNow(sessionIndex int) (*binary.RunResult, error) {
	if sessionIndex < 1 || sessionIndex > plan.SessionCount {
		return nil, fmt.Errorf("%w: session index %d out of range", domain.ErrValidation, sessionIndex)
	}
	now := time.Now().In(j.loc)
	return j.engine.RunSession(plan.DateKey(now), sessionIndex)
}
