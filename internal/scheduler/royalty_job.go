package scheduler

import (
	"github.com/rs/zerolog"

	"compengine/internal/modules/distribution"
)

// CTOReader reads the company turnover aggregate the royalty cycle
// distributes over.
type CTOReader interface {
	CTOTotal() (float64, error)
}

// RoyaltyJob runs the monthly royalty cycle: the accumulated CTO BV is the
// cycle base, DistributeRoyalty pays the eligible silver holders out of its
// pool and consumes the paid total back from CTO BV.
type RoyaltyJob struct {
	distribution *distribution.Service
	bv           CTOReader
	log          zerolog.Logger
}

// NewRoyaltyJob creates the monthly royalty cycle job
func NewRoyaltyJob(distributionService *distribution.Service, bv CTOReader, log zerolog.Logger) *RoyaltyJob {
	return &RoyaltyJob{
		distribution: distributionService,
		bv:           bv,
		log:          log.With().Str("job", "royalty_cycle").Logger(),
	}
}

// Name returns the job name
func (j *RoyaltyJob) Name() string {
	return "royalty_cycle"
}

// Run distributes the royalty pool of the current CTO BV. An empty CTO is a
// no-op cycle.
func (j *RoyaltyJob) Run() error {
	total, err := j.bv.CTOTotal()
	if err != nil {
		return err
	}
	if total <= 0 {
		j.log.Debug().Msg("No CTO BV accumulated, skipping royalty cycle")
		return nil
	}

	result, err := j.distribution.DistributeRoyalty(total)
	if err != nil {
		return err
	}

	j.log.Info().
		Float64("cto_bv", total).
		Float64("pool", result.Pool).
		Float64("paid", result.TotalPaid).
		Int("users", len(result.Shares)).
		Msg("Royalty cycle completed")

	return nil
}
