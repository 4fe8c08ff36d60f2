package engine

// State is the position of one advisory in a run.
type State string

const (
	StateFetched     State = "FETCHED"
	StateDetailed    State = "DETAILED"
	StateSynthesized State = "SYNTHESIZED"
	StatePackaged    State = "PACKAGED"
	StateDeployed    State = "DEPLOYED"
	StateInvoked     State = "INVOKED"
	StateFailed      State = "FAILED"
)

// Stage names the step that produced an event or an error.
type Stage string

const (
	StageFetch        Stage = "fetch"
	StageDetail       Stage = "detail"
	StageStore        Stage = "store"
	StageTechnologies Stage = "technologies"
	StageSynthesize   Stage = "synthesize"
	StageSanitize     Stage = "sanitize"
	StageValidate     Stage = "validate"
	StagePackage      Stage = "package"
	StageDeploy       Stage = "deploy"
	StageInvoke       Stage = "invoke"
	StageVerdict      Stage = "verdict"
)
