package types

// Stage is a state of the deployment pipeline.
type Stage string

const (
	StageStart      Stage = "start"
	StageChecking   Stage = "checking"
	StageLoading    Stage = "loading"
	StageBuilding   Stage = "building"
	StagePublishing Stage = "publishing"
	StageReporting  Stage = "reporting"
	StageSuccess    Stage = "success"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageSuccess || s == StageFailed
}

// Health is the last-known health indicator of a deployed function.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)
