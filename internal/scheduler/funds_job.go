package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/modules/funds"
)

// FundsJob distributes the monthly car and house pools. Scheduled for the
// first of the month; the month key it distributes is the month that just
// ended.
type FundsJob struct {
	funds *funds.Service
	loc   *time.Location
	log   zerolog.Logger
}

// NewFundsJob creates the monthly fund distribution job
func NewFundsJob(fundService *funds.Service, loc *time.Location, log zerolog.Logger) *FundsJob {
	return &FundsJob{
		funds: fundService,
		loc:   loc,
		log:   log.With().Str("job", "monthly_funds").Logger(),
	}
}

// Name returns the job name
func (j *FundsJob) Name() string {
	return "monthly_funds"
}

// Run distributes both pools for the previous month.
func (j *FundsJob) Run() error {
	month := time.Now().In(j.loc).AddDate(0, -1, 0).Format("2006-01")

	car, err := j.funds.DistributeCarFund(month)
	if err != nil {
		return err
	}
	house, err := j.funds.DistributeHouseFund(month)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("month", month).
		Float64("car_pool", car.Pool).
		Float64("house_pool", house.Pool).
		Msg("Monthly funds distributed")

	return nil
}
